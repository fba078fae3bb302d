package canlog

import "context"

// Plugin extends a Canlog instance with optional behavior.
// Plugins are initialized on the first Start in registration order and shut
// down by Close in reverse order.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize starts the plugin. Long-running work must run in its own
	// goroutine and stop when ctx is cancelled or Shutdown is called.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown stops the plugin and waits for its goroutines.
	Shutdown(ctx context.Context) error
}

// PluginConfig gives plugins access to the instance configuration.
type PluginConfig struct {
	LayoutPath string
	LogDir     string
	Logger     Logger

	// SetLayout replaces the layout used by the next session.
	SetLayout func(*SignalLayout)
}
