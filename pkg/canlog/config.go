package canlog

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bft-labs/canlog/internal/adapters/source"
	"github.com/bft-labs/canlog/internal/app"
	"github.com/bft-labs/canlog/internal/domain"
)

// Storage kinds.
const (
	StorageJSONL  = "jsonl"
	StorageCSV    = "csv"
	StorageSQLite = "sqlite"
	StorageHTTP   = "http"
)

// SourceConfig selects the frame source: socketcan, slcan, candump or pcap.
type SourceConfig = source.Config

// Config holds the configuration of a Canlog instance.
// Zero durations and sizes take the defaults in SetDefaults.
type Config struct {
	// Source selects and configures the frame source. Ignored when
	// WithSourceFactory is used.
	Source SourceConfig

	// LayoutPath is a JSON, TOML or YAML layout file. Required unless
	// WithLayout is used.
	LayoutPath string

	// Storage is one of jsonl, csv, sqlite or http. Default: jsonl.
	// Ignored when WithStorage is used.
	Storage string

	// LogDir receives jsonl and csv session files and the session registry.
	LogDir string

	// StateDir holds sessions.json. Default: LogDir.
	StateDir string

	// DBPath is the sqlite database. Default: LogDir/canlog.db.
	DBPath string

	// CollectorURL is the base URL of the http collector.
	CollectorURL string

	// AuthKey is sent as a bearer token to the collector.
	AuthKey string

	// HTTPTimeout bounds each collector request. Default: 15s.
	HTTPTimeout time.Duration

	// Capacity is the ring buffer size in samples. Default: 65536.
	Capacity int

	// BatchSize is the maximum number of samples per write. Default: 1024.
	BatchSize int

	// FlushInterval is the flush timer period. Default: 500ms.
	FlushInterval time.Duration

	// StorageGiveUp is how long storage may keep failing after samples
	// started being evicted before the session ends. Default: 30s.
	StorageGiveUp time.Duration

	// StopTimeout bounds closing a session. Default: 5s.
	StopTimeout time.Duration
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	if c.Storage == "" {
		c.Storage = StorageJSONL
	}
	if c.StateDir == "" {
		c.StateDir = c.LogDir
	}
	if c.DBPath == "" && c.LogDir != "" {
		c.DBPath = filepath.Join(c.LogDir, "canlog.db")
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = app.DefaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = app.DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = app.DefaultFlushInterval
	}
	if c.StorageGiveUp <= 0 {
		c.StorageGiveUp = app.DefaultStorageGiveUp
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = app.DefaultStopTimeout
	}
	c.CollectorURL = strings.TrimRight(c.CollectorURL, "/")
}

// Validate checks the configuration after SetDefaults. Errors match
// ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageJSONL, StorageCSV:
		if c.LogDir == "" {
			errs = append(errs, fmt.Errorf("%s storage requires a log directory", c.Storage))
		}
	case StorageSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("sqlite storage requires a database path"))
		}
	case StorageHTTP:
		if c.CollectorURL == "" {
			errs = append(errs, errors.New("http storage requires a collector url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
}

func (c Config) controllerConfig() app.ControllerConfig {
	return app.ControllerConfig{
		Recorder: app.RecorderConfig{
			Capacity:      c.Capacity,
			BatchSize:     c.BatchSize,
			FlushInterval: c.FlushInterval,
			StorageGiveUp: c.StorageGiveUp,
		},
		StopTimeout: c.StopTimeout,
	}
}
