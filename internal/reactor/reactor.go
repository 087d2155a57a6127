// Package reactor is the single-threaded main event loop: the only
// component that owns the Modbus session, the telemetry log file, and the
// roster of live tailing subscribers.
package reactor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/stats"
)

// modbusSession is the subset of *session.Session the reactor needs. A
// narrow interface so tests can drive Tick/FromClient handling with a fake
// controller instead of real hardware.
type modbusSession interface {
	ReadStats() (mppt.Stats, error)
	ReadSettings() (mppt.Settings, error)
	WriteSettings(mppt.Settings) error
	WriteCoil(mppt.Coil, bool) error
	Close() error
}

// publisher is the subset of *netidx.Publisher the reactor pushes
// telemetry through.
type publisher interface {
	PublishStats(stats.Envelope)
	PublishSettings(mppt.Settings)
	Close()
}

// noopPublisher is used when no netidx.Publisher is configured.
type noopPublisher struct{}

func (noopPublisher) PublishStats(stats.Envelope)    {}
func (noopPublisher) PublishSettings(mppt.Settings) {}
func (noopPublisher) Close()                        {}

// safetyManager is the subset of *safety.Manager the reactor needs to
// service SetPhySolar/SetPhyBattery/SetPhyMaster commands. A narrow
// interface so tests can drive the relay-facing commands with a fake.
type safetyManager interface {
	SetSolar(bool) error
	SetBattery(bool) error
	SetMaster(bool) (bool, error)
}

// Reactor is the supervisor's single owner of hardware session state, the
// telemetry log, and the subscriber roster.
type Reactor struct {
	session   modbusSession
	publisher publisher
	safety    safetyManager
	logPath   string
	log       *bufio.Writer
	logFile   *os.File

	subscribers []chan control.ToClient
	settings    *mppt.Settings

	// fatal is called on a log write or reopen failure. Overridden in
	// tests; defaults to terminating the process, per the spec's "log
	// write failure is fatal" rule.
	fatal func(error)

	// now is overridden in tests for deterministic timestamps.
	now func() time.Time
}

// New constructs a reactor against an already-open Modbus session. The log
// file at logPath is opened for append immediately; a failure here is
// itself a fatal startup error per §7.
func New(sess modbusSession, pub publisher, safetyMgr safetyManager, logPath string) (*Reactor, error) {
	r := &Reactor{
		session:   sess,
		publisher: pub,
		safety:    safetyMgr,
		logPath:   logPath,
		fatal:     func(err error) { log.Fatalf("reactor: fatal: %v", err) },
		now:       time.Now,
	}
	if pub == nil {
		r.publisher = noopPublisher{}
	}
	if err := r.openLog(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reactor) openLog() error {
	f, err := os.OpenFile(r.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open telemetry log %s: %w", r.logPath, err)
	}
	r.logFile = f
	r.log = bufio.NewWriter(f)
	return nil
}

// Run drives the reactor loop until ctx is canceled or a Stop command is
// processed. tick fires at the configured stats_interval; cmds carries
// FromClient commands from the control socket and the netidx publisher.
func (r *Reactor) Run(ctx context.Context, tick <-chan time.Time, cmds <-chan control.Command) {
	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.onTick()
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.onTick()
		case cmd := <-cmds:
			if !r.onCommand(cmd) {
				return
			}
		}
	}
}

func (r *Reactor) shutdown() {
	_ = r.log.Flush()
	_ = r.logFile.Close()
	_ = r.session.Close()
	r.publisher.Close()
}

// onTick implements §4.5's five-step tick behavior.
func (r *Reactor) onTick() {
	if r.settings == nil {
		if s, err := r.session.ReadSettings(); err == nil {
			r.settings = &s
			r.publisher.PublishSettings(s)
		}
	}

	var controller *mppt.Stats
	if s, err := r.session.ReadStats(); err != nil {
		log.Printf("reactor: read_stats failed: %v", err)
	} else {
		controller = &s
	}

	env := stats.NewV3(r.now(), controller)
	if controller != nil {
		r.publisher.PublishStats(env)
	}

	r.appendLog(env)
	r.broadcast(env)
}

func (r *Reactor) appendLog(env stats.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		r.fatal(fmt.Errorf("marshal telemetry envelope: %w", err))
		return
	}
	b = append(b, '\n')
	if _, err := r.log.Write(b); err != nil {
		r.fatal(fmt.Errorf("write telemetry log: %w", err))
		return
	}
	if err := r.log.Flush(); err != nil {
		r.fatal(fmt.Errorf("flush telemetry log: %w", err))
	}
}

func (r *Reactor) broadcast(env stats.Envelope) {
	live := r.subscribers[:0]
	for _, sub := range r.subscribers {
		select {
		case sub <- control.StatsReply(env):
			live = append(live, sub)
		default:
			// reply channel full or its owner gone; try once more
			// non-blockingly, then drop it rather than stall the tick.
			select {
			case sub <- control.StatsReply(env):
				live = append(live, sub)
			default:
				close(sub)
			}
		}
	}
	r.subscribers = live
}

// onCommand dispatches one FromClient command. Returns false when the
// reactor loop should stop (a Stop command was processed).
func (r *Reactor) onCommand(cmd control.Command) bool {
	switch cmd.Req.Cmd {
	case control.SetCharging:
		r.replyCoil(cmd, mppt.ChargeDisconnectCoil, !cmd.Req.Bool)
	case control.SetLoad:
		r.replyCoil(cmd, mppt.LoadDisconnectCoil, !cmd.Req.Bool)
	case control.SetPhySolar:
		r.replyPhy(cmd, r.safety.SetSolar(cmd.Req.Bool))
	case control.SetPhyBattery:
		r.replyPhy(cmd, r.safety.SetBattery(cmd.Req.Bool))
	case control.SetPhyMaster:
		got, err := r.safety.SetMaster(cmd.Req.Bool)
		if err != nil {
			r.reply(cmd, control.Err(err.Error()))
			return true
		}
		if cmd.Req.Bool && !got {
			r.reply(cmd, control.Err("design rules prohibit setting the master relay"))
			return true
		}
		r.reply(cmd, control.Ok())
	case control.ResetController:
		_ = r.session.WriteCoil(mppt.ResetControlCoil, true)
		r.reply(cmd, control.Ok())
	case control.LogRotated:
		r.onLogRotated(cmd)
	case control.TailStats:
		r.subscribers = append(r.subscribers, cmd.Reply)
	case control.ReadSettings:
		r.onReadSettings(cmd)
	case control.WriteSettingsCmd:
		r.onWriteSettings(cmd)
	case control.Stop:
		r.reply(cmd, control.Ok())
		time.Sleep(200 * time.Millisecond)
		return false
	default:
		r.reply(cmd, control.Err(fmt.Sprintf("unhandled command %q", cmd.Req.Cmd)))
	}
	return true
}

func (r *Reactor) replyCoil(cmd control.Command, coil mppt.Coil, bit bool) {
	if err := r.session.WriteCoil(coil, bit); err != nil {
		r.reply(cmd, control.Err(err.Error()))
		return
	}
	r.reply(cmd, control.Ok())
}

func (r *Reactor) replyPhy(cmd control.Command, err error) {
	if err != nil {
		r.reply(cmd, control.Err(err.Error()))
		return
	}
	r.reply(cmd, control.Ok())
}

func (r *Reactor) onLogRotated(cmd control.Command) {
	if err := r.log.Flush(); err != nil {
		r.fatal(fmt.Errorf("flush telemetry log before rotate: %w", err))
		return
	}
	if err := r.logFile.Close(); err != nil {
		r.fatal(fmt.Errorf("close rotated telemetry log: %w", err))
		return
	}
	if err := r.openLog(); err != nil {
		r.fatal(fmt.Errorf("reopen telemetry log after rotate: %w", err))
		return
	}
	r.reply(cmd, control.Ok())
}

func (r *Reactor) onReadSettings(cmd control.Command) {
	s, err := r.session.ReadSettings()
	if err != nil {
		r.reply(cmd, control.Err(err.Error()))
		return
	}
	r.reply(cmd, control.SettingsReply(s))
}

func (r *Reactor) onWriteSettings(cmd control.Command) {
	if cmd.Req.Settings == nil {
		r.reply(cmd, control.Err("write_settings requires a settings payload"))
		return
	}
	if err := r.session.WriteSettings(*cmd.Req.Settings); err != nil {
		r.reply(cmd, control.Err(err.Error()))
		return
	}
	r.settings = cmd.Req.Settings
	r.publisher.PublishSettings(*cmd.Req.Settings)
	r.reply(cmd, control.Ok())
}

// reply sends one reply and closes the channel. Every command except
// TailStats goes through it (TailStats never replies now; its channel stays
// open for future pushes). Stop replies here before the drain sleep.
func (r *Reactor) reply(cmd control.Command, resp control.ToClient) {
	cmd.Reply <- resp
	close(cmd.Reply)
}
