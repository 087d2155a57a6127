package session

import (
	"errors"
	"testing"
	"time"

	"github.com/estokes/solar/internal/mppt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	failures  int
	reads     int
	closed    int
	statsErr  error
	stats     mppt.Stats
}

func (f *fakeConn) ReadStats() (mppt.Stats, error) {
	f.reads++
	if f.reads <= f.failures {
		return mppt.Stats{}, errors.New("simulated transient error")
	}
	return f.stats, nil
}
func (f *fakeConn) ReadSettings() (mppt.Settings, error)      { return mppt.Settings{}, nil }
func (f *fakeConn) WriteSettings(mppt.Settings) error          { return nil }
func (f *fakeConn) WriteCoil(mppt.Coil, bool) error             { return nil }
func (f *fakeConn) Close() error                                { f.closed++; return nil }

type fakeSafety struct {
	reboots int
}

func (f *fakeSafety) RebootConverter() error  { f.reboots++; return nil }
func (f *fakeSafety) DisableConverter() error { return nil }

func withNoSleep(t *testing.T) {
	old := sleeper
	sleeper = func(time.Duration) {}
	t.Cleanup(func() { sleeper = old })
}

func withDial(t *testing.T, conns ...*fakeConn) {
	old := dial
	i := 0
	dial = func(string, uint8, time.Duration) (conn, error) {
		c := conns[i]
		if i < len(conns)-1 {
			i++
		}
		return c, nil
	}
	t.Cleanup(func() { dial = old })
}

func TestReadStatsSucceedsFirstTry(t *testing.T) {
	withNoSleep(t)
	want := mppt.Stats{SoftwareVersion: 7}
	fc := &fakeConn{stats: want}
	withDial(t, fc)

	s := New("/dev/ttyX", 1, &fakeSafety{})
	got, err := s.ReadStats()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 0, fc.closed)
}

func TestReadStatsRecoversAfterTwoTransientFailures(t *testing.T) {
	withNoSleep(t)
	want := mppt.Stats{SoftwareVersion: 9}
	fc := &fakeConn{failures: 2, stats: want}
	withDial(t, fc)
	fs := &fakeSafety{}

	s := New("/dev/ttyX", 1, fs)
	got, err := s.ReadStats()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 0, fs.reboots, "two cheap retries must not escalate to reboot")
}

func TestReadStatsEscalatesToRebootOnThirdTry(t *testing.T) {
	withNoSleep(t)
	want := mppt.Stats{SoftwareVersion: 3}
	fc := &fakeConn{failures: 3, stats: want}
	withDial(t, fc)
	fs := &fakeSafety{}

	s := New("/dev/ttyX", 1, fs)
	got, err := s.ReadStats()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, fs.reboots, "succeeding on the 4th attempt must perform exactly one reboot")
}

func TestReadStatsSurfacesErrorAfterFourFailures(t *testing.T) {
	withNoSleep(t)
	fc := &fakeConn{failures: 100}
	withDial(t, fc)
	fs := &fakeSafety{}

	s := New("/dev/ttyX", 1, fs)
	_, err := s.ReadStats()
	require.Error(t, err)
	assert.Equal(t, 1, fs.reboots, "exhausting all 4 attempts must still perform exactly one reboot")
}

func TestWriteCoilResetControlNeverFails(t *testing.T) {
	withNoSleep(t)
	fc := &fakeConn{}
	withDial(t, fc)

	s := New("/dev/ttyX", 1, &fakeSafety{})
	err := s.WriteCoil(mppt.ResetControlCoil, true)
	require.NoError(t, err)
}

func TestThrottleEnforcesOneSecondGap(t *testing.T) {
	var slept time.Duration
	old := sleeper
	sleeper = func(d time.Duration) { slept += d }
	t.Cleanup(func() { sleeper = old })

	fc := &fakeConn{}
	withDial(t, fc)
	s := New("/dev/ttyX", 1, &fakeSafety{})
	s.lastCommand = time.Now()
	_, _ = s.ReadStats()
	assert.Greater(t, slept, time.Duration(0))
}
