package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "solar.conf")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestLoadParsesFields(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"device":            "/dev/ttyUSB0",
		"modbus_id":         1,
		"run_directory":     "/run/solar",
		"archive_directory": "/var/lib/solar/archive",
		"stats_interval":    5,
		"log_level":         "info",
		"mqtt_base":         "solar",
		"mqtt_broker":       "tcp://localhost:1883",
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, uint8(1), cfg.ModbusID)
	assert.Equal(t, uint64(5), cfg.StatsInterval)
	assert.Equal(t, 5*time.Second, cfg.StatsIntervalDuration())
}

func TestLoadDefaultsStatsIntervalToOneSecond(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"device":        "/dev/ttyUSB0",
		"run_directory": "/run/solar",
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.StatsInterval)
	assert.Equal(t, time.Second, cfg.StatsIntervalDuration())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}

func TestLoadMalformedJSONErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solar.conf")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{RunDirectory: "/run/solar", ArchiveDirectory: "/var/lib/solar/archive"}
	assert.Equal(t, "/run/solar/solar.pid", cfg.PIDFile())
	assert.Equal(t, "/run/solar/control", cfg.ControlSocket())
	assert.Equal(t, "/run/solar/solar.log", cfg.LogFile())

	date := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	full, oneMin, tenMin := cfg.ArchiveFor(date)
	assert.Equal(t, "/var/lib/solar/archive/solar.log-20260730.gz", full)
	assert.Equal(t, "/var/lib/solar/archive/solar.log-202607301m.gz", oneMin)
	assert.Equal(t, "/var/lib/solar/archive/solar.log-2026073010m.gz", tenMin)
}
