package canlog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"

	fsadapter "github.com/bft-labs/canlog/internal/adapters/fs"
	httpadapter "github.com/bft-labs/canlog/internal/adapters/http"
	"github.com/bft-labs/canlog/internal/adapters/source"
	"github.com/bft-labs/canlog/internal/adapters/sqlite"
	"github.com/bft-labs/canlog/internal/app"
	"github.com/bft-labs/canlog/internal/decode"
	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// Canlog records CAN bus sessions. Use New() to create an instance, then
// Start() to begin a session.
type Canlog struct {
	config     Config
	opts       options
	controller *app.Controller
	storage    Storage
	repo       SessionRepository
	logger     Logger
	emitter    *eventEmitterWrapper

	layout atomic.Pointer[domain.SignalLayout]

	// Plugin support
	plugins []Plugin

	// Cleanup runner (config-based, not a plugin)
	cleanup *cleanupRunner

	mu           sync.Mutex
	pluginsUp    bool
	pluginCancel context.CancelFunc
}

// New creates a Canlog instance in StateIdle. The layout is loaded and
// validated here so a bad layout fails before any session starts.
func New(cfg Config, opts ...Option) (*Canlog, error) {
	cfg.SetDefaults()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	o := defaultOptions(httpClient)
	for _, opt := range opts {
		opt(&o)
	}

	if o.storage == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	layout := o.layout
	if layout == nil {
		if cfg.LayoutPath == "" {
			return nil, fmt.Errorf("%w: a layout file or WithLayout is required", domain.ErrInvalidConfig)
		}
		l, err := decode.LoadLayout(cfg.LayoutPath)
		if err != nil {
			return nil, err
		}
		layout = l
	}

	logger := o.logger
	c := &Canlog{
		config:  cfg,
		opts:    o,
		logger:  logger,
		emitter: &eventEmitterWrapper{handler: o.eventHandler},
		plugins: o.plugins,
	}
	c.layout.Store(layout)

	c.storage = o.storage
	if c.storage == nil {
		c.storage = newStorage(cfg, o.httpClient, logger)
	}

	c.repo = o.repository
	if c.repo == nil && cfg.StateDir != "" {
		c.repo = fsadapter.NewSessionFileRepository(cfg.StateDir)
	}

	sources := o.sourceFactory
	if sources == nil {
		srcCfg := cfg.Source
		sources = func() (FrameSource, error) { return source.New(srcCfg, logger) }
	}

	gate := o.storageGate
	if gate == nil && o.storageGateCfg != nil {
		gcfg := *o.storageGateCfg
		if gcfg.Path == "" {
			gcfg.Path = gatePath(cfg)
		}
		gate = newDiskGate(gcfg, logger)
	}

	controller, err := app.NewController(cfg.controllerConfig(), app.ControllerDeps{
		Sources:    sources,
		Layout:     c.layout.Load,
		Storage:    c.storage,
		Repository: c.repo,
		Gate:       gate,
		Logger:     logger,
		Events:     c.emitter,
		Observer:   o.observer,
	})
	if err != nil {
		return nil, err
	}
	c.controller = controller

	if o.cleanupConfig != nil && o.cleanupConfig.Enabled {
		c.cleanup = newCleanupRunner(*o.cleanupConfig, cfg.LogDir, c.activeDestination, logger)
	}

	return c, nil
}

// newStorage creates the storage selected by cfg.Storage.
func newStorage(cfg Config, client HTTPClient, logger Logger) Storage {
	switch cfg.Storage {
	case StorageCSV:
		return fsadapter.NewCSVStorage(cfg.LogDir, logger)
	case StorageSQLite:
		return sqlite.NewStore(cfg.DBPath, logger)
	case StorageHTTP:
		return httpadapter.NewCollectorStorage(client, cfg.CollectorURL, cfg.AuthKey, logger)
	default:
		return fsadapter.NewLogStorage(cfg.LogDir, logger)
	}
}

// gatePath is the directory whose filesystem the storage gate checks.
func gatePath(cfg Config) string {
	if cfg.Storage == StorageSQLite && cfg.DBPath != "" {
		return filepath.Dir(cfg.DBPath)
	}
	return cfg.LogDir
}

// Start begins a new session and returns it. Reception and flushing run in
// the background until Stop is called, ctx is cancelled or a fatal error
// ends the session. Returns ErrAlreadyActive if a session is recording.
func (c *Canlog) Start(ctx context.Context) (Session, error) {
	if err := c.startPlugins(); err != nil {
		return Session{}, err
	}
	return c.controller.Start(ctx)
}

// Stop ends the active session, flushing every sample recorded before the
// call, and returns the sealed session. Returns ErrNotActive when idle.
func (c *Canlog) Stop(ctx context.Context) (Session, error) {
	return c.controller.Stop(ctx)
}

// Wait blocks until the current session ends and returns it with its
// terminal error (nil after a requested stop).
func (c *Canlog) Wait(ctx context.Context) (Session, error) {
	return c.controller.Wait(ctx)
}

// Done returns a channel closed when the current session ends.
func (c *Canlog) Done() <-chan struct{} {
	return c.controller.Done()
}

// Status returns the current state.
// Safe to call concurrently from any goroutine.
func (c *Canlog) Status() State {
	return convertState(c.controller.State())
}

// Session returns the recording session with live stats, or the last
// session when idle. ok is false before the first session.
func (c *Canlog) Session() (Session, bool) {
	return c.controller.Session()
}

// Stats returns the counters of the current or last session.
func (c *Canlog) Stats() Stats {
	return c.controller.Stats()
}

// Layout returns the layout the next session will decode with.
func (c *Canlog) Layout() *SignalLayout {
	return c.layout.Load()
}

// SetLayout replaces the layout for the next session. The recording
// session keeps the layout it started with. A nil layout is ignored.
func (c *Canlog) SetLayout(layout *SignalLayout) {
	if layout == nil {
		return
	}
	c.layout.Store(layout)
	c.logger.Info("layout replaced", log.Int("messages", layout.Len()))
	c.emitter.onLayoutChanged(layout)
}

// Sessions lists recorded sessions, oldest first.
func (c *Canlog) Sessions(ctx context.Context) ([]Session, error) {
	if c.repo == nil {
		return nil, nil
	}
	return c.repo.List(ctx)
}

// Close stops an active session and shuts down plugins and the cleanup
// runner. The instance may be started again afterwards.
func (c *Canlog) Close(ctx context.Context) error {
	var errs []error
	if c.Status() != StateIdle {
		if _, err := c.controller.Stop(ctx); err != nil && !errors.Is(err, domain.ErrNotActive) {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pluginsUp {
		return errors.Join(errs...)
	}

	if c.cleanup != nil {
		c.cleanup.stop()
	}

	// Shutdown plugins (in reverse order)
	for i := len(c.plugins) - 1; i >= 0; i-- {
		p := c.plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			c.logger.Error("plugin shutdown failed", log.String("plugin", p.Name()), log.Err(err))
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name(), err))
		} else {
			c.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
	c.pluginCancel()
	c.pluginsUp = false
	return errors.Join(errs...)
}

// startPlugins initializes plugins and the cleanup runner once.
func (c *Canlog) startPlugins() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pluginsUp {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pluginCfg := PluginConfig{
		LayoutPath: c.config.LayoutPath,
		LogDir:     c.config.LogDir,
		Logger:     c.logger,
		SetLayout:  c.SetLayout,
	}
	for i, p := range c.plugins {
		if err := p.Initialize(ctx, pluginCfg); err != nil {
			c.logger.Error("plugin initialization failed", log.String("plugin", p.Name()), log.Err(err))
			for j := i - 1; j >= 0; j-- {
				_ = c.plugins[j].Shutdown(ctx)
			}
			cancel()
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		c.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	if c.cleanup != nil {
		c.cleanup.start(ctx)
	}
	c.pluginCancel = cancel
	c.pluginsUp = true
	return nil
}

// activeDestination returns the destination of the recording session.
func (c *Canlog) activeDestination() string {
	s, ok := c.controller.Session()
	if !ok || !s.Active() {
		return ""
	}
	return s.Destination
}
