package canlog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/canlog/pkg/log"
)

// StorageGateConfig configures the free space check run before each write.
// When the destination filesystem has less than MinFreeBytes available the
// write fails like any other storage error: the batch stays buffered and is
// retried.
type StorageGateConfig struct {
	// Enabled controls whether the gate is active. Default: false
	Enabled bool

	// Path is a file or directory on the destination filesystem.
	// Default: Config.LogDir
	Path string

	// MinFreeBytes is the free space below which writes are refused.
	// Default: 64 MiB
	MinFreeBytes uint64

	// CheckInterval caches the last result for this long.
	// Default: 1 second
	CheckInterval time.Duration
}

// DefaultStorageGateConfig returns a StorageGateConfig with sensible defaults.
func DefaultStorageGateConfig() StorageGateConfig {
	return StorageGateConfig{
		Enabled:       true,
		MinFreeBytes:  64 << 20,
		CheckInterval: time.Second,
	}
}

// WithStorageGateConfig enables the free space gate.
//
// Usage:
//
//	c, err := canlog.New(cfg,
//	    canlog.WithStorageGateConfig(canlog.StorageGateConfig{
//	        Enabled:      true,
//	        MinFreeBytes: 256 << 20,
//	    }),
//	)
func WithStorageGateConfig(cfg StorageGateConfig) Option {
	if !cfg.Enabled {
		return func(o *options) {} // No-op if not enabled
	}

	if cfg.MinFreeBytes == 0 {
		cfg.MinFreeBytes = 64 << 20
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}

	return func(o *options) {
		o.storageGateCfg = &cfg
	}
}

// WithStorageGate installs a custom gate checked before each write.
func WithStorageGate(gate StorageGate) Option {
	return func(o *options) {
		o.storageGate = gate
	}
}

// diskGate refuses writes when the filesystem is nearly full.
type diskGate struct {
	mu sync.Mutex

	path      string
	minFree   uint64
	interval  time.Duration
	freeBytes func(path string) (uint64, error)
	now       func() time.Time
	logger    log.Logger

	checkedAt time.Time
	lastErr   error
	warned    bool
}

func newDiskGate(cfg StorageGateConfig, logger log.Logger) *diskGate {
	return &diskGate{
		path:      cfg.Path,
		minFree:   cfg.MinFreeBytes,
		interval:  cfg.CheckInterval,
		freeBytes: freeBytes,
		now:       time.Now,
		logger:    logger,
	}
}

// Check implements ports.StorageGate.
func (g *diskGate) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.checkedAt.IsZero() && now.Sub(g.checkedAt) < g.interval {
		return g.lastErr
	}
	g.checkedAt = now

	free, err := g.freeBytes(g.path)
	switch {
	case errors.Is(err, errors.ErrUnsupported):
		if !g.warned {
			g.warned = true
			g.logger.Warn("storage gate disabled: free space unavailable on this platform")
		}
		g.lastErr = nil
	case err != nil:
		g.lastErr = fmt.Errorf("free space on %s: %w", g.path, err)
	case free < g.minFree:
		g.lastErr = fmt.Errorf("free space on %s is %d bytes, below %d", g.path, free, g.minFree)
	default:
		g.lastErr = nil
	}
	return g.lastErr
}
