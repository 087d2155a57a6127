// Package safety wraps the raw relay driver with the ordering and settle
// delays that keep the DC/DC converter from running into no load. It is the
// only code in the supervisor allowed to flip the SOLAR/BATTERY/MASTER
// relays directly.
package safety

import (
	"time"

	"github.com/estokes/solar/internal/relay"
)

// Roles assigned to three of the four physical relays. R0 is spare.
const (
	solar   = relay.R2
	battery = relay.R1
	master  = relay.R3
)

// DelayRelay is how long a relay is given to physically settle before the
// next transition is issued.
const DelayRelay = 500 * time.Millisecond

// DelayReboot is how long the charge controller takes to boot once its
// supply (the master relay) is energized.
const DelayReboot = 15 * time.Second

// sleeper is overridden in tests so the safety tests don't take 15s+ each.
var sleeper = time.Sleep

// relayDriver is the subset of *relay.Driver the safety manager needs.
// Tests substitute a recording fake to verify transition ordering without
// real GPIO hardware.
type relayDriver interface {
	On(relay.Name) error
	Off(relay.Name) error
	Level(relay.Name) bool
}

// Manager enforces the relay ordering invariant: MASTER must never be high
// while both SOLAR and BATTERY are low.
type Manager struct {
	relays relayDriver
}

// New wraps an already-open relay driver. The driver must already have
// driven all four outputs low (relay.Open does this).
func New(d relayDriver) *Manager {
	return &Manager{relays: d}
}

// EnableConverter brings the converter up from a fully-off state: battery
// first, settle, then master (which boots the charge controller), then
// solar once the controller has had time to come up.
func (m *Manager) EnableConverter() error {
	if err := m.relays.On(battery); err != nil {
		return err
	}
	sleeper(DelayRelay)
	if err := m.relays.On(master); err != nil {
		return err
	}
	sleeper(DelayReboot)
	return m.relays.On(solar)
}

// DisableConverter takes the converter fully down: master first so the
// converter stops drawing before its inputs disappear, then solar and
// battery in either order.
func (m *Manager) DisableConverter() error {
	if err := m.relays.Off(master); err != nil {
		return err
	}
	sleeper(DelayRelay)
	if err := m.relays.Off(solar); err != nil {
		return err
	}
	return m.relays.Off(battery)
}

// RebootConverter power-cycles the charge controller.
func (m *Manager) RebootConverter() error {
	if err := m.DisableConverter(); err != nil {
		return err
	}
	return m.EnableConverter()
}

// disableNonMaster is the shared logic for SetSolar(false)/SetBattery(false):
// if the other non-master relay is already low, master must come down first.
func (m *Manager) disableNonMaster(target, other relay.Name) error {
	if !m.relays.Level(other) {
		if err := m.relays.Off(master); err != nil {
			return err
		}
		sleeper(DelayRelay)
	}
	return m.relays.Off(target)
}

func (m *Manager) enableNonMaster(target relay.Name) error {
	if err := m.relays.On(target); err != nil {
		return err
	}
	sleeper(DelayRelay)
	return nil
}

// SetSolar enables or disables the solar-array contactor, applying the
// master-protection rule on disable.
func (m *Manager) SetSolar(on bool) error {
	if on {
		return m.enableNonMaster(solar)
	}
	return m.disableNonMaster(solar, battery)
}

// SetBattery enables or disables the battery contactor, applying the
// master-protection rule on disable.
func (m *Manager) SetBattery(on bool) error {
	if on {
		return m.enableNonMaster(battery)
	}
	return m.disableNonMaster(battery, solar)
}

// SetMaster attempts to set the master relay. Enabling is only permitted
// when at least one of battery/solar is already high; otherwise the relay
// is explicitly driven low and the returned state reflects that refusal.
// The caller must compare the requested value against the return to detect
// a refused enable.
func (m *Manager) SetMaster(on bool) (bool, error) {
	if !on {
		if err := m.relays.Off(master); err != nil {
			return false, err
		}
		return false, nil
	}
	if m.relays.Level(battery) || m.relays.Level(solar) {
		if err := m.relays.On(master); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := m.relays.Off(master); err != nil {
		return false, err
	}
	return false, nil
}

// Solar reports the last commanded state of the solar relay.
func (m *Manager) Solar() bool { return m.relays.Level(solar) }

// Battery reports the last commanded state of the battery relay.
func (m *Manager) Battery() bool { return m.relays.Level(battery) }

// Master reports the last commanded state of the master relay.
func (m *Manager) Master() bool { return m.relays.Level(master) }

// PhyState is a snapshot of the three safety-critical relay states.
type PhyState struct {
	Solar   bool `json:"solar"`
	Battery bool `json:"battery"`
	Master  bool `json:"master"`
}

// Phy snapshots the current commanded relay state.
func (m *Manager) Phy() PhyState {
	return PhyState{Solar: m.Solar(), Battery: m.Battery(), Master: m.Master()}
}
