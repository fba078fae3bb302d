package canlog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	fsadapter "github.com/bft-labs/canlog/internal/adapters/fs"
	"github.com/bft-labs/canlog/pkg/log"
)

// CleanupConfig holds configuration options for automatic session log
// retention. When enabled, canlog periodically checks the size of the log
// directory and removes the oldest session files when it exceeds the high
// watermark.
type CleanupConfig struct {
	// Enabled controls whether cleanup is active. Default: false
	Enabled bool

	// CheckInterval is how often to check the log directory size.
	// Default: 10 minutes
	CheckInterval time.Duration

	// HighWatermark is the size in bytes above which cleanup begins.
	// Default: 2 GiB (2147483648 bytes)
	HighWatermark int64

	// LowWatermark is the target size in bytes after cleanup.
	// Default: 1.5 GiB (1610612736 bytes)
	LowWatermark int64
}

// DefaultCleanupConfig returns a CleanupConfig with sensible defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:       true,
		CheckInterval: 10 * time.Minute,
		HighWatermark: 2 << 30, // 2 GiB
		LowWatermark:  3 << 29, // 1.5 GiB
	}
}

// WithCleanupConfig enables automatic session log cleanup.
//
// Usage:
//
//	c, err := canlog.New(cfg,
//	    canlog.WithCleanupConfig(canlog.CleanupConfig{
//	        Enabled:       true,
//	        HighWatermark: 8 << 30, // 8GB
//	        LowWatermark:  6 << 30, // 6GB
//	        CheckInterval: 1 * time.Hour,
//	    }),
//	)
func WithCleanupConfig(cfg CleanupConfig) Option {
	if !cfg.Enabled {
		return func(o *options) {} // No-op if not enabled
	}

	// Apply defaults for zero values
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Minute
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 2 << 30
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark / 4 * 3
	}

	return func(o *options) {
		o.cleanupConfig = &cfg
	}
}

// cleanupRunner manages the retention goroutine.
type cleanupRunner struct {
	// Configuration
	checkInterval time.Duration
	highWatermark int64
	lowWatermark  int64

	// Runtime state
	logDir string
	// active returns the destination of the recording session, which is
	// never removed.
	active func() string
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCleanupRunner(cfg CleanupConfig, logDir string, active func() string, logger log.Logger) *cleanupRunner {
	return &cleanupRunner{
		checkInterval: cfg.CheckInterval,
		highWatermark: cfg.HighWatermark,
		lowWatermark:  cfg.LowWatermark,
		logDir:        logDir,
		active:        active,
		logger:        logger,
	}
}

func (c *cleanupRunner) start(ctx context.Context) {
	if c.logDir == "" {
		c.logger.Warn("log cleanup disabled: no log directory configured")
		return
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.Info("log cleanup enabled",
		log.Int64("high_watermark", c.highWatermark),
		log.Int64("low_watermark", c.lowWatermark),
	)

	c.wg.Add(1)
	go c.cleanupLoop(cleanupCtx)
}

func (c *cleanupRunner) stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *cleanupRunner) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	// Run immediately on startup
	c.cleanupOnce(ctx)

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanupOnce(ctx)
		}
	}
}

// cleanupOnce removes the oldest session files until the directory is at
// or below the low watermark.
func (c *cleanupRunner) cleanupOnce(ctx context.Context) int64 {
	curSize, err := dirSize(c.logDir)
	if err != nil {
		c.logger.Error("log cleanup: size check failed", log.Err(err))
		return 0
	}
	if curSize <= c.highWatermark {
		return 0
	}

	protected := ""
	if c.active != nil {
		protected = c.active()
	}

	files, err := sessionFiles(c.logDir)
	if err != nil {
		c.logger.Error("log cleanup: list sessions failed", log.Err(err))
		return 0
	}

	var removed int64
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if curSize <= c.lowWatermark {
			break
		}
		if f.path == protected {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			c.logger.Error("log cleanup: remove failed", log.String("path", f.path), log.Err(err))
			continue
		}
		curSize -= f.size
		removed += f.size
	}

	if removed > 0 {
		c.logger.Info("log cleanup completed", log.Int64("bytes_freed", removed))
	}
	return removed
}

type sessionFile struct {
	path string
	size int64
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// sessionFiles lists session logs oldest first. File names start with the
// session start time, so lexical order is chronological.
func sessionFiles(dir string) ([]sessionFile, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []sessionFile
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fsadapter.LogExt) && !strings.HasSuffix(name, fsadapter.CSVExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, sessionFile{path: filepath.Join(dir, name), size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}
