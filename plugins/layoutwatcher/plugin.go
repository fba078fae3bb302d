// Package layoutwatcher reloads the canlog signal layout when its file
// changes on disk. Files that fail to parse or validate are logged and the
// previous layout stays in use.
package layoutwatcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/canlog/internal/decode"
	"github.com/bft-labs/canlog/pkg/canlog"
	"github.com/bft-labs/canlog/pkg/log"
)

// Plugin watches the layout file.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration

	path      string
	format    decode.Format
	setLayout func(*canlog.SignalLayout)
	logger    canlog.Logger
	last      []byte
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	debounce  *time.Timer
	reloads   int
}

// Config holds configuration options for the layout watcher plugin.
type Config struct {
	// DebounceDelay is how long to wait after the last change event before
	// reloading. Editors often write a file in several steps.
	// Default: 200 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 200 * time.Millisecond}
}

// New creates a layout watcher plugin.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}
	return &Plugin{debounceDelay: cfg.DebounceDelay}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "layoutwatcher"
}

// Initialize starts watching cfg.LayoutPath.
func (p *Plugin) Initialize(ctx context.Context, cfg canlog.PluginConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if cfg.LayoutPath == "" || cfg.SetLayout == nil {
		logger.Warn("layout watcher disabled: no layout file configured")
		return nil
	}

	path, err := filepath.Abs(cfg.LayoutPath)
	if err != nil {
		return err
	}
	format, err := decode.FormatFromPath(path)
	if err != nil {
		return err
	}
	// The layout in use was loaded from this content.
	last, _ := os.ReadFile(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and deploy tools replace the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	p.mu.Lock()
	p.path = path
	p.format = format
	p.setLayout = cfg.SetLayout
	p.logger = logger
	p.last = last
	p.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	logger.Info("layout watcher started", log.String("path", path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	return nil
}

// Reloads returns how many layouts were applied.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("layout watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) scheduleReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() == nil {
			p.reload()
		}
	})
}

// reload parses the layout file and hands a valid layout to canlog.
func (p *Plugin) reload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("layout reload failed", log.String("path", p.path), log.Err(err))
		}
		return
	}
	if bytes.Equal(data, p.last) {
		return
	}

	layout, err := decode.ParseLayout(data, p.format)
	if err != nil {
		p.logger.Warn("layout rejected, keeping previous layout", log.String("path", p.path), log.Err(err))
		return
	}
	p.last = data
	p.reloads++
	p.setLayout(layout)
}

// Ensure Plugin implements canlog.Plugin.
var _ canlog.Plugin = (*Plugin)(nil)
