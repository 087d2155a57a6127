// Package config loads the supervisor's on-disk JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultPath is used when the CLI is not given an explicit -c/--config flag.
const DefaultPath = "/etc/solar.conf"

// Config is the supervisor's on-disk configuration file. Field names match
// the keys in solar.conf verbatim so the file can be hand-edited.
type Config struct {
	Device           string `json:"device"`
	ModbusID         uint8  `json:"modbus_id"`
	RunDirectory     string `json:"run_directory"`
	ArchiveDirectory string `json:"archive_directory"`
	StatsInterval    uint64 `json:"stats_interval"`
	LogLevel         string `json:"log_level"`
	MQTTBase         string `json:"mqtt_base"`
	MQTTBroker       string `json:"mqtt_broker"`
	MQTTClientID     string `json:"mqtt_client_id,omitempty"`
}

// Load reads and parses the config file at path. An empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = 1
	}
	return &cfg, nil
}

// StatsInterval as a time.Duration.
func (c *Config) StatsIntervalDuration() time.Duration {
	return time.Duration(c.StatsInterval) * time.Second
}

// PIDFile is the path to the daemon's pid file inside RunDirectory.
func (c *Config) PIDFile() string {
	return filepath.Join(c.RunDirectory, "solar.pid")
}

// ControlSocket is the path to the control socket inside RunDirectory.
func (c *Config) ControlSocket() string {
	return filepath.Join(c.RunDirectory, "control")
}

// LogFile is the path to the live (uncompressed) telemetry log.
func (c *Config) LogFile() string {
	return filepath.Join(c.RunDirectory, "solar.log")
}

// ArchiveFor returns the three archive file paths for the given calendar date.
func (c *Config) ArchiveFor(date time.Time) (full, oneMin, tenMin string) {
	stamp := date.Format("20060102")
	base := filepath.Join(c.ArchiveDirectory, "solar.log-"+stamp)
	return base + ".gz", base + "1m.gz", base + "10m.gz"
}
