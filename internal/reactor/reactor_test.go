package reactor

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	stats       mppt.Stats
	statsErr    error
	settings    mppt.Settings
	settingsErr error
	coilCalls   []struct {
		coil mppt.Coil
		bit  bool
	}
	coilErr error
	closed  bool
}

func (f *fakeSession) ReadStats() (mppt.Stats, error) { return f.stats, f.statsErr }
func (f *fakeSession) ReadSettings() (mppt.Settings, error) {
	return f.settings, f.settingsErr
}
func (f *fakeSession) WriteSettings(mppt.Settings) error { return nil }
func (f *fakeSession) WriteCoil(coil mppt.Coil, bit bool) error {
	f.coilCalls = append(f.coilCalls, struct {
		coil mppt.Coil
		bit  bool
	}{coil, bit})
	return f.coilErr
}
func (f *fakeSession) Close() error { f.closed = true; return nil }

type fakePublisher struct{ closed bool }

func (f *fakePublisher) PublishStats(stats.Envelope)    {}
func (f *fakePublisher) PublishSettings(mppt.Settings) {}
func (f *fakePublisher) Close()                         { f.closed = true }

type fakeSafety struct {
	solar, battery bool
	masterPermit   bool
	err            error
}

func (f *fakeSafety) SetSolar(on bool) error   { f.solar = on; return f.err }
func (f *fakeSafety) SetBattery(on bool) error { f.battery = on; return f.err }
func (f *fakeSafety) SetMaster(on bool) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if !on {
		return false, nil
	}
	if f.masterPermit {
		return true, nil
	}
	return false, nil
}

func newTestReactor(t *testing.T, sess modbusSession, ts time.Time) (*Reactor, string) {
	t.Helper()
	return newTestReactorWithSafety(t, sess, &fakeSafety{}, ts)
}

func newTestReactorWithSafety(t *testing.T, sess modbusSession, safety safetyManager, ts time.Time) (*Reactor, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "solar.log")
	r, err := New(sess, &fakePublisher{}, safety, logPath)
	require.NoError(t, err)
	r.now = func() time.Time { return ts }
	r.fatal = func(err error) { t.Fatalf("unexpected fatal: %v", err) }
	return r, logPath
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines
}

// S1: Tick produces a log line.
func TestScenarioS1TickProducesLogLine(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	canned := mppt.Stats{Timestamp: ts, SoftwareVersion: 42}
	sess := &fakeSession{stats: canned, settingsErr: assertAlwaysFail{}}
	r, logPath := newTestReactor(t, sess, ts)

	r.onTick()

	lines := readLines(t, logPath)
	require.Len(t, lines, 1)
	var env stats.Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &env))
	assert.Equal(t, 3, env.Version)
	assert.True(t, ts.Equal(env.Timestamp))
	require.NotNil(t, env.Controller)
	assert.Equal(t, canned, *env.Controller)
}

// S2: Tail delivers to a live client.
func TestScenarioS2TailDeliversToLiveClient(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	canned := mppt.Stats{Timestamp: ts, SoftwareVersion: 9}
	sess := &fakeSession{stats: canned, settingsErr: assertAlwaysFail{}}
	r, _ := newTestReactor(t, sess, ts)

	reply := make(chan control.ToClient, 100)
	r.onCommand(control.Command{Req: control.FromClient{Cmd: control.TailStats}, Reply: reply})

	r.onTick()

	select {
	case msg := <-reply:
		require.Equal(t, control.ReplyStats, msg.Kind)
		require.NotNil(t, msg.Stats)
		assert.True(t, ts.Equal(msg.Stats.Timestamp))
		require.NotNil(t, msg.Stats.Controller)
		assert.Equal(t, canned, *msg.Stats.Controller)
	default:
		t.Fatal("expected a stats push on the tail subscriber channel")
	}
}

// S3: Reset is best-effort — reply is Ok even if the coil write errors
// (it is expected to "time out").
func TestScenarioS3ResetIsBestEffort(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sess := &fakeSession{coilErr: assertAlwaysFail{}}
	r, _ := newTestReactor(t, sess, ts)

	reply := make(chan control.ToClient, 1)
	r.onCommand(control.Command{Req: control.FromClient{Cmd: control.ResetController}, Reply: reply})

	resp := <-reply
	assert.Equal(t, control.ReplyOk, resp.Kind)
	require.Len(t, sess.coilCalls, 1)
	assert.Equal(t, mppt.ResetControlCoil, sess.coilCalls[0].coil)
	assert.True(t, sess.coilCalls[0].bit)
}

// S6: a control write resolves to SetCharging(false) and issues exactly
// one ChargeDisconnect coil write with bit=true.
func TestScenarioS6SetChargingFalse(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sess := &fakeSession{}
	r, _ := newTestReactor(t, sess, ts)

	reply := make(chan control.ToClient, 1)
	r.onCommand(control.Command{Req: control.FromClient{Cmd: control.SetCharging, Bool: false}, Reply: reply})

	resp := <-reply
	assert.Equal(t, control.ReplyOk, resp.Kind)
	require.Len(t, sess.coilCalls, 1)
	assert.Equal(t, mppt.ChargeDisconnectCoil, sess.coilCalls[0].coil)
	assert.True(t, sess.coilCalls[0].bit)
}

func TestSetPhySolarDelegatesToSafetyManager(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	safety := &fakeSafety{}
	r, _ := newTestReactorWithSafety(t, &fakeSession{}, safety, ts)

	reply := make(chan control.ToClient, 1)
	r.onCommand(control.Command{Req: control.FromClient{Cmd: control.SetPhySolar, Bool: true}, Reply: reply})

	assert.Equal(t, control.ReplyOk, (<-reply).Kind)
	assert.True(t, safety.solar)
}

// Boundary: SetPhyMaster(true) with both non-masters off returns an Err and
// leaves the relay refused low.
func TestSetPhyMasterRefusedRepliesErr(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	safety := &fakeSafety{masterPermit: false}
	r, _ := newTestReactorWithSafety(t, &fakeSession{}, safety, ts)

	reply := make(chan control.ToClient, 1)
	r.onCommand(control.Command{Req: control.FromClient{Cmd: control.SetPhyMaster, Bool: true}, Reply: reply})

	resp := <-reply
	assert.Equal(t, control.ReplyErr, resp.Kind)
	assert.Equal(t, "design rules prohibit setting the master relay", resp.Err)
}

func TestSetPhyMasterPermittedRepliesOk(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	safety := &fakeSafety{masterPermit: true}
	r, _ := newTestReactorWithSafety(t, &fakeSession{}, safety, ts)

	reply := make(chan control.ToClient, 1)
	r.onCommand(control.Command{Req: control.FromClient{Cmd: control.SetPhyMaster, Bool: true}, Reply: reply})

	assert.Equal(t, control.ReplyOk, (<-reply).Kind)
}

func TestStopSleepsThenEndsLoop(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sess := &fakeSession{}
	r, _ := newTestReactor(t, sess, ts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tick := make(chan time.Time)
	cmds := make(chan control.Command)

	done := make(chan struct{})
	go func() {
		r.Run(ctx, tick, cmds)
		close(done)
	}()

	reply := make(chan control.ToClient, 1)
	cmds <- control.Command{Req: control.FromClient{Cmd: control.Stop}, Reply: reply}
	assert.Equal(t, control.ReplyOk, (<-reply).Kind)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop after Stop command")
	}
	assert.True(t, sess.closed)
}

type assertAlwaysFail struct{}

func (assertAlwaysFail) Error() string { return "simulated failure" }
