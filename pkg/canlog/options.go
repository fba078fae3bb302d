package canlog

import (
	"net/http"

	"github.com/bft-labs/canlog/pkg/log"
)

// Option configures optional behavior of Canlog.
type Option func(*options)

// options holds the optional configuration for a Canlog instance.
type options struct {
	httpClient     HTTPClient
	logger         Logger
	eventHandler   EventHandler
	plugins        []Plugin
	cleanupConfig  *CleanupConfig
	storageGate    StorageGate
	storageGateCfg *StorageGateConfig
	observer       func(DecodedSample)
	sourceFactory  func() (FrameSource, error)
	storage        Storage
	repository     SessionRepository
	layout         *SignalLayout
}

// defaultOptions returns options with sensible defaults.
func defaultOptions(client *http.Client) options {
	return options{
		httpClient: client,
		logger:     log.NewNoopLogger(),
	}
}

// WithHTTPClient sets the client used by http storage.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventHandler sets a handler for canlog events.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when Canlog first starts.
// Plugins are initialized in registration order and shutdown in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithSampleObserver registers a function that sees every decoded sample,
// for live displays. It runs on the reception goroutine and must not block.
func WithSampleObserver(fn func(DecodedSample)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithLayout sets the initial layout instead of loading Config.LayoutPath.
func WithLayout(layout *SignalLayout) Option {
	return func(o *options) {
		o.layout = layout
	}
}

// WithSourceFactory replaces the configured frame source. The factory is
// called once per session and must return a fresh, unopened source.
func WithSourceFactory(factory func() (FrameSource, error)) Option {
	return func(o *options) {
		o.sourceFactory = factory
	}
}

// WithStorage replaces the configured storage.
func WithStorage(storage Storage) Option {
	return func(o *options) {
		o.storage = storage
	}
}

// WithSessionRepository replaces the sessions.json registry.
func WithSessionRepository(repo SessionRepository) Option {
	return func(o *options) {
		o.repository = repo
	}
}
