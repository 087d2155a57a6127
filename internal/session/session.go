// Package session owns the single Modbus-RTU connection to the charge
// controller and the safety-relay manager that powers it. It is the only
// place retry, reboot, and throttle policy live; internal/mppt only knows
// how to turn registers into Stats/Settings.
package session

import (
	"fmt"
	"time"

	"github.com/estokes/solar/internal/mppt"
)

// safetyManager is the subset of *safety.Manager the session needs to
// escalate a persistent fault into a hardware power-cycle, and to leave the
// converter safe on close. A narrow interface so tests can drive the retry
// ladder without real GPIO hardware.
type safetyManager interface {
	RebootConverter() error
	DisableConverter() error
}

// CmdTimeout bounds a single Modbus transaction.
const CmdTimeout = 30 * time.Second

// throttle is the minimum gap enforced between the start of consecutive
// Modbus commands on a session.
const throttle = 1 * time.Second

// sleeper is swapped out in tests to avoid real waits.
var sleeper = time.Sleep

// conn is the subset of *mppt.Connection the session needs. Tests supply a
// fake to drive the retry ladder without a real serial port.
type conn interface {
	ReadStats() (mppt.Stats, error)
	ReadSettings() (mppt.Settings, error)
	WriteSettings(mppt.Settings) error
	WriteCoil(mppt.Coil, bool) error
	Close() error
}

// dial opens the real Modbus connection. Overridden in tests.
var dial = func(device string, address uint8, timeout time.Duration) (conn, error) {
	return mppt.Open(device, address, timeout)
}

// Session owns at most one open Modbus connection, addressed by a fixed
// (device, unit id) pair, plus the safety manager for the hardware behind
// it. It tolerates being dropped and reopened at any point; no state other
// than the open connection itself survives a reopen.
type Session struct {
	device      string
	address     uint8
	safety      safetyManager
	con         conn
	lastCommand time.Time
}

// New constructs a session against an already-enabled converter. The caller
// is expected to have called safety.Manager.EnableConverter (or equivalent)
// before commands are issued, matching the teacher's rpi.mpptc_enable on
// connection construction.
func New(device string, address uint8, safetyMgr safetyManager) *Session {
	return &Session{device: device, address: address, safety: safetyMgr}
}

// Close disables the converter via the safety manager. Matches the
// original's Drop impl: scope exit must always leave the hardware safe.
func (s *Session) Close() error {
	if s.con != nil {
		_ = s.con.Close()
		s.con = nil
	}
	return s.safety.DisableConverter()
}

func (s *Session) getConnection() (conn, error) {
	if s.con != nil {
		return s.con, nil
	}
	con, err := dial(s.device, s.address, CmdTimeout)
	if err != nil {
		return nil, err
	}
	s.con = con
	return con, nil
}

// waitForThrottle enforces the 1-second gap between the start of
// consecutive commands on this session.
func (s *Session) waitForThrottle() {
	now := time.Now()
	elapsed := now.Sub(s.lastCommand)
	if elapsed < throttle {
		sleeper(throttle - elapsed)
	}
	s.lastCommand = time.Now()
}

// eval runs f against the live connection, reopening and retrying on
// failure per the spec's retry ladder: two cheap reopens, then one hardware
// reboot escalation, then surface the error.
func (s *Session) eval(f func(conn) error) error {
	tries := 0
	for {
		con, err := s.getConnection()
		var cmdErr error
		if err != nil {
			cmdErr = err
		} else {
			cmdErr = f(con)
		}
		if cmdErr == nil {
			return nil
		}
		tries++
		switch {
		case tries >= 4:
			return cmdErr
		case tries >= 3:
			s.dropConnection()
			if err := s.safety.RebootConverter(); err != nil {
				return fmt.Errorf("reboot converter during retry escalation: %w", err)
			}
			tries++
		default:
			sleeper(1 * time.Second)
			s.dropConnection()
		}
	}
}

func (s *Session) dropConnection() {
	if s.con != nil {
		_ = s.con.Close()
		s.con = nil
	}
}

// WriteCoil writes a single coil. Writing ResetControl with bit=true never
// waits for a reply: the controller resets before it can answer, so the
// write is issued best-effort and the call always succeeds once a
// connection could be obtained at all.
func (s *Session) WriteCoil(coil mppt.Coil, bit bool) error {
	s.waitForThrottle()
	if coil == mppt.ResetControlCoil && bit {
		con, err := s.getConnection()
		if err != nil {
			return err
		}
		_ = con.WriteCoil(coil, bit)
		return nil
	}
	return s.eval(func(c conn) error {
		return c.WriteCoil(coil, bit)
	})
}

// ReadStats reads one Stats snapshot, retrying per the eval ladder.
func (s *Session) ReadStats() (mppt.Stats, error) {
	s.waitForThrottle()
	var out mppt.Stats
	err := s.eval(func(c conn) error {
		r, err := c.ReadStats()
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// ReadSettings reads the current Settings, retrying per the eval ladder.
func (s *Session) ReadSettings() (mppt.Settings, error) {
	s.waitForThrottle()
	var out mppt.Settings
	err := s.eval(func(c conn) error {
		r, err := c.ReadSettings()
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// WriteSettings writes a full Settings record, retrying per the eval
// ladder.
func (s *Session) WriteSettings(settings mppt.Settings) error {
	s.waitForThrottle()
	return s.eval(func(c conn) error {
		return c.WriteSettings(settings)
	})
}
