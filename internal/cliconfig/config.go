package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage kinds accepted by --storage.
const (
	StorageJSONL  = "jsonl"
	StorageCSV    = "csv"
	StorageSQLite = "sqlite"
	StorageHTTP   = "http"
)

// Source kinds accepted by --source.
var sourceKinds = []string{"socketcan", "slcan", "candump", "pcap"}

// Config holds CLI configuration for canlog.
type Config struct {
	Source    string
	Interface string
	Device    string
	Baud      int
	Bitrate   int
	File      string
	Realtime  bool

	LayoutPath  string
	WatchLayout bool

	Storage      string
	DataDir      string
	LogDir       string
	DBPath       string
	CollectorURL string
	AuthKey      string
	HTTPTimeout  time.Duration

	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
	StorageGiveUp time.Duration
	StopTimeout   time.Duration

	MinFreeMB    int
	CleanupMaxMB int
	CleanupLowMB int

	LogLevel       string
	LogFile        string
	StatusInterval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Source:        "socketcan",
		Interface:     "can0",
		Bitrate:       500000,
		Storage:       StorageJSONL,
		DataDir:       "", // Derived from the home directory during Validate
		HTTPTimeout:   15 * time.Second,
		Capacity:      65536,
		BatchSize:     1024,
		FlushInterval: 500 * time.Millisecond,
		StorageGiveUp: 30 * time.Second,
		StopTimeout:   5 * time.Second,
		LogLevel:      "info",
		AuthKey:       os.Getenv("CANLOG_AUTH_KEY"),
	}
}

// DefaultDataDir returns ~/.canlog, or .canlog when no home directory is known.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".canlog")
	}
	return ".canlog"
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.LayoutPath == "" {
		return fmt.Errorf("layout is required")
	}

	known := false
	for _, k := range sourceKinds {
		if c.Source == k {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown source %q (want one of %s)", c.Source, strings.Join(sourceKinds, ", "))
	}
	switch c.Source {
	case "slcan":
		if c.Device == "" {
			return fmt.Errorf("device is required for the slcan source")
		}
	case "candump", "pcap":
		if c.File == "" {
			return fmt.Errorf("file is required for the %s source", c.Source)
		}
	}

	c.ResolvePaths()

	switch c.Storage {
	case StorageJSONL, StorageCSV, StorageSQLite:
	case StorageHTTP:
		if c.CollectorURL == "" {
			return fmt.Errorf("collector-url is required for http storage")
		}
		c.CollectorURL = strings.TrimRight(c.CollectorURL, "/")
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive")
	}
	if c.StorageGiveUp < 0 {
		return fmt.Errorf("storage give-up must not be negative")
	}

	if c.CleanupMaxMB > 0 && c.CleanupLowMB <= 0 {
		c.CleanupLowMB = c.CleanupMaxMB * 8 / 10
	}
	if c.CleanupLowMB > c.CleanupMaxMB {
		return fmt.Errorf("cleanup low watermark %dMB exceeds high watermark %dMB", c.CleanupLowMB, c.CleanupMaxMB)
	}

	return nil
}

// ResolvePaths derives the data, log and database paths left empty.
func (c *Config) ResolvePaths() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "canlog.db")
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
