//go:build periph

package core

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPins maps every GPIB signal to a physical pin name as accepted by
// periph.io's gpioreg lookup (e.g. "GPIO17").
type PeriphPins struct {
	DIO  [8]string
	ATN  string
	EOI  string
	DAV  string
	NRFD string
	NDAC string
	SRQ  string
	REN  string
	IFC  string
}

// PeriphAdapter drives a real GPIB transceiver through periph.io GPIO
// pins. All lines are open-drain, negative logic: Out(gpio.Low) asserts,
// Out(gpio.High) (or tri-state, where supported) deasserts.
type PeriphAdapter struct {
	mu sync.Mutex

	dio     [8]gpio.PinIO
	control map[ControlLine]gpio.PinIO
	driving bool
}

// NewPeriphAdapter resolves every pin name in pins and returns an adapter
// ready to install with SetPinAdapter. It calls periph.io/x/host/v3.Init()
// itself before resolving any pin.
func NewPeriphAdapter(pins PeriphPins) (*PeriphAdapter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pins: periph host init: %w", err)
	}

	a := &PeriphAdapter{control: make(map[ControlLine]gpio.PinIO, 8)}

	for i, name := range pins.DIO {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("pins: unknown DIO%d pin %q", i+1, name)
		}
		a.dio[i] = p
	}

	named := map[ControlLine]string{
		LineATN:  pins.ATN,
		LineEOI:  pins.EOI,
		LineDAV:  pins.DAV,
		LineNRFD: pins.NRFD,
		LineNDAC: pins.NDAC,
		LineSRQ:  pins.SRQ,
		LineREN:  pins.REN,
		LineIFC:  pins.IFC,
	}
	for line, name := range named {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("pins: unknown %s pin %q", line, name)
		}
		a.control[line] = p
	}

	return a, nil
}

func (a *PeriphAdapter) ReadDataBus() (byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var value byte
	for i, pin := range a.dio {
		if pin.Read() == gpio.Low {
			value |= 1 << uint(i)
		}
	}
	return value, nil
}

func (a *PeriphAdapter) WriteDataBus(value byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, pin := range a.dio {
		level := gpio.High
		if value&(1<<uint(i)) != 0 {
			level = gpio.Low
		}
		if err := pin.Out(level); err != nil {
			return fmt.Errorf("pins: write DIO%d: %w", i+1, err)
		}
	}
	return nil
}

func (a *PeriphAdapter) SetDataBusDirection(dir BusDirection) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.driving = dir == DirectionOutput
	if a.driving {
		return nil
	}
	for i, pin := range a.dio {
		if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("pins: tri-state DIO%d: %w", i+1, err)
		}
	}
	return nil
}

func (a *PeriphAdapter) SetControl(line ControlLine, asserted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pin, ok := a.control[line]
	if !ok {
		return fmt.Errorf("pins: no pin mapped for %s", line)
	}
	level := gpio.High
	if asserted {
		level = gpio.Low
	}
	return pin.Out(level)
}

func (a *PeriphAdapter) ReadControl(line ControlLine) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pin, ok := a.control[line]
	if !ok {
		return false, fmt.Errorf("pins: no pin mapped for %s", line)
	}
	return pin.Read() == gpio.Low, nil
}

// WatchEdges starts two goroutines, one blocking on ATN edges and one on
// SRQ edges, that invoke onATN/onSRQ with the new asserted state. It never touches the
// data bus or any control line other than the two it watches, so it can
// run concurrently with the cooperative main loop without locking against
// it beyond what SetControl/ReadControl already do.
func (a *PeriphAdapter) WatchEdges(onATN, onSRQ func(asserted bool)) error {
	atnPin, ok := a.control[LineATN]
	if !ok {
		return fmt.Errorf("pins: no ATN pin mapped")
	}
	srqPin, ok := a.control[LineSRQ]
	if !ok {
		return fmt.Errorf("pins: no SRQ pin mapped")
	}
	if err := atnPin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("pins: watch ATN: %w", err)
	}
	if err := srqPin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("pins: watch SRQ: %w", err)
	}

	go func() {
		for atnPin.WaitForEdge(-1) {
			onATN(atnPin.Read() == gpio.Low)
		}
	}()
	go func() {
		for srqPin.WaitForEdge(-1) {
			onSRQ(srqPin.Read() == gpio.Low)
		}
	}()
	return nil
}
