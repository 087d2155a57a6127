// Package stats holds the Stats envelope (the versioned record written to
// the telemetry log) and the windowed aggregation accumulator used by the
// archive pipeline.
package stats

import (
	"encoding/json"
	"time"

	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/safety"
)

// Envelope is the single concrete representation of the versioned V0..V3
// telemetry record. Business logic never branches on which version a
// record arrived as; Upgrade always normalizes to the V3 shape (Timestamp +
// optional Controller, Phy dropped) before the record is used for
// anything other than re-serializing it in its original form.
type Envelope struct {
	Version    int          `json:"version"`
	Timestamp  time.Time    `json:"timestamp"`
	Controller *mppt.Stats  `json:"controller,omitempty"`
	Phy        *safety.PhyState `json:"phy,omitempty"`
}

// NewV3 builds the canonical envelope the reactor writes on every tick.
func NewV3(timestamp time.Time, controller *mppt.Stats) Envelope {
	return Envelope{Version: 3, Timestamp: timestamp, Controller: controller}
}

// envelopeWire is the tolerant decode shape: every field optional, so we
// can tell which of V0..V3 a given line was written as.
type envelopeWire struct {
	Version    *int             `json:"version"`
	Timestamp  *time.Time       `json:"timestamp"`
	Controller *mppt.Stats      `json:"controller"`
	Phy        *safety.PhyState `json:"phy"`
	// V0 lines are a bare Stats object with no wrapper at all; detect that
	// by the presence of a field only Stats has.
	SoftwareVersion *uint16 `json:"software_version"`
}

// UnmarshalJSON accepts any of the four historical on-disk shapes:
//   - V0: a bare Stats object, no envelope wrapper.
//   - V1: {controller, phy}.
//   - V2: {timestamp, controller (optional), phy}.
//   - V3: {timestamp, controller (optional)}.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Version != nil:
		e.Version = *w.Version
	case w.SoftwareVersion != nil:
		e.Version = 0
	case w.Timestamp != nil && w.Phy != nil:
		e.Version = 2
	case w.Timestamp != nil:
		e.Version = 3
	case w.Phy != nil:
		e.Version = 1
	default:
		e.Version = 3
	}

	if e.Version == 0 {
		var s mppt.Stats
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		e.Controller = &s
		e.Timestamp = s.Timestamp
		e.Phy = nil
		return nil
	}

	e.Controller = w.Controller
	e.Phy = w.Phy
	if w.Timestamp != nil {
		e.Timestamp = *w.Timestamp
	} else if e.Controller != nil {
		e.Timestamp = e.Controller.Timestamp
	}
	return nil
}

// Upgrade returns the V3-equivalent of the envelope. Idempotent:
// Upgrade(Upgrade(x)) == Upgrade(x).
func (e Envelope) Upgrade() Envelope {
	return Envelope{Version: 3, Timestamp: e.Timestamp, Controller: e.Controller}
}
