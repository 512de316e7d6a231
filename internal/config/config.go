// Package config loads the ensemble composition from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Source kinds.
const (
	SourceClock = "clock"
	SourceMPD   = "mpd"
)

type Config struct {
	HTTP HTTPConfig `koanf:"http"`
	MPD  MPDConfig  `koanf:"mpd"`
	Sync SyncConfig `koanf:"sync"`

	// Sources describes the ordered composition: every source becomes a
	// leaf wrapped in a start-offset combinator, and the whole list is
	// folded into one synchronized root.
	Sources []SourceConfig `koanf:"sources"`
}

// HTTPConfig holds the HTTP/socket.io server settings.
type HTTPConfig struct {
	Port               int `koanf:"port"`                 // default: 3000
	MaxExternalClients int `koanf:"max_external_clients"` // default: 8; localhost is unlimited
}

// MPDConfig holds the MPD endpoint used by sources of kind "mpd".
type MPDConfig struct {
	Host     string `koanf:"host"` // default: "localhost"
	Port     int    `koanf:"port"` // default: 6600
	Password string `koanf:"password"`
}

// SyncConfig tunes the cross-sync drift correction.
type SyncConfig struct {
	DriftIntervalMS  int64 `koanf:"drift_interval_ms"`  // default: 2000
	DriftThresholdMS int64 `koanf:"drift_threshold_ms"` // default: 1000
}

// SourceConfig describes one leaf player.
type SourceConfig struct {
	Kind       string `koanf:"kind"`        // "clock" or "mpd"
	DurationMS int64  `koanf:"duration_ms"` // clock sources only
	OffsetMS   int64  `koanf:"offset_ms"`   // start delay before the source becomes active
}

// Load reads configuration files in priority order (last wins) and an
// optional explicit path, then applies defaults and validates.
func Load(explicit string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range configPaths(explicit) {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		} else if path == explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPaths(explicit string) []string {
	paths := []string{}

	// 1. ~/.config/ensemble/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ensemble", "config.toml"))
	}

	// 2. ./config.toml
	paths = append(paths, "config.toml")

	// 3. explicit --config path (highest priority)
	if explicit != "" {
		paths = append(paths, explicit)
	}

	return paths
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 3000
	}
	if c.HTTP.MaxExternalClients <= 0 {
		c.HTTP.MaxExternalClients = 8
	}
	if c.MPD.Host == "" {
		c.MPD.Host = "localhost"
	}
	if c.MPD.Port <= 0 {
		c.MPD.Port = 6600
	}
	if c.Sync.DriftIntervalMS <= 0 {
		c.Sync.DriftIntervalMS = 2000
	}
	if c.Sync.DriftThresholdMS <= 0 {
		c.Sync.DriftThresholdMS = 1000
	}
}

func (c *Config) validate() error {
	for i, src := range c.Sources {
		switch src.Kind {
		case SourceClock:
			if src.DurationMS <= 0 {
				return fmt.Errorf("source %d: clock sources need a positive duration_ms", i)
			}
		case SourceMPD:
			// endpoint validated at connect time
		default:
			return fmt.Errorf("source %d: unknown kind %q", i, src.Kind)
		}
		if src.OffsetMS < 0 {
			return fmt.Errorf("source %d: offset_ms must be >= 0", i)
		}
	}
	return nil
}
