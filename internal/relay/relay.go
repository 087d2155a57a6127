// Package relay drives the four GPIO-backed relay outputs of the
// supervisor's carrier board. It knows nothing about the ordering or
// timing rules that make the relays safe to flip; that policy lives in
// internal/safety.
package relay

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Name identifies one of the four physical relay outputs.
type Name int

const (
	R0 Name = iota
	R1
	R2
	R3
)

func (n Name) String() string {
	switch n {
	case R0:
		return "R0"
	case R1:
		return "R1"
	case R2:
		return "R2"
	case R3:
		return "R3"
	default:
		return "R?"
	}
}

// pinNumbers are the BCM GPIO numbers wired to each relay on the carrier
// board.
var pinNumbers = map[Name]string{
	R0: "GPIO26",
	R1: "GPIO19",
	R2: "GPIO13",
	R3: "GPIO6",
}

// Driver exposes idempotent on/off control and level readback for the four
// relay outputs. It applies no policy: callers decide ordering and timing.
type Driver struct {
	pins [4]gpio.PinIO
}

// Open initializes the host GPIO subsystem, acquires all four relay pins as
// outputs, and drives them all low before returning.
func Open() (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	d := &Driver{}
	for name, pinName := range pinNumbers {
		pin := gpioreg.ByName(pinName)
		if pin == nil {
			return nil, fmt.Errorf("relay %s: gpio pin %s not found", name, pinName)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("relay %s: drive low: %w", name, err)
		}
		d.pins[name] = pin
	}
	return d, nil
}

// On drives the named relay high.
func (d *Driver) On(n Name) error {
	if err := d.pins[n].Out(gpio.High); err != nil {
		return fmt.Errorf("relay %s: drive high: %w", n, err)
	}
	return nil
}

// Off drives the named relay low.
func (d *Driver) Off(n Name) error {
	if err := d.pins[n].Out(gpio.Low); err != nil {
		return fmt.Errorf("relay %s: drive low: %w", n, err)
	}
	return nil
}

// Level reports the last commanded level for the named relay.
func (d *Driver) Level(n Name) bool {
	return d.pins[n].Read() == gpio.High
}
