//go:build periph

package cmd

import (
	"gpibridge/bootstrap"
	"gpibridge/core"
)

// newHardwarePins builds the real periph.io GPIO adapter from the
// configured pin names and starts its edge watcher. Only compiled into
// -tags periph builds, which are the only ones with a chance of actually
// having those pins available.
func newHardwarePins(opts bootstrap.Options, onATN, onSRQ func(bool)) (core.PinAdapter, error) {
	adapter, err := core.NewPeriphAdapter(core.PeriphPins{
		DIO:  opts.Pins.DIO,
		ATN:  opts.Pins.ATN,
		EOI:  opts.Pins.EOI,
		DAV:  opts.Pins.DAV,
		NRFD: opts.Pins.NRFD,
		NDAC: opts.Pins.NDAC,
		SRQ:  opts.Pins.SRQ,
		REN:  opts.Pins.REN,
		IFC:  opts.Pins.IFC,
	})
	if err != nil {
		return nil, err
	}
	if err := adapter.WatchEdges(onATN, onSRQ); err != nil {
		return nil, err
	}
	return adapter, nil
}
