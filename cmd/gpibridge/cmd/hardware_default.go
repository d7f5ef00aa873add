//go:build !periph

package cmd

import (
	"fmt"

	"gpibridge/bootstrap"
	"gpibridge/core"
)

// newHardwarePins reports that this build has no real GPIO backend. Build
// with -tags periph to link core.PeriphAdapter in.
func newHardwarePins(opts bootstrap.Options, onATN, onSRQ func(bool)) (core.PinAdapter, error) {
	return nil, fmt.Errorf("no hardware pin adapter in this build; rebuild with -tags periph or pass --sim")
}
