package layoutwatcher

import "github.com/bft-labs/canlog/pkg/canlog"

// WithLayoutWatcher returns a canlog Option that reloads the signal layout
// file when it changes. A new layout applies from the next session.
//
// Usage:
//
//	c, err := canlog.New(cfg,
//	    layoutwatcher.WithLayoutWatcher(layoutwatcher.Config{
//	        DebounceDelay: 200 * time.Millisecond,
//	    }),
//	)
func WithLayoutWatcher(cfg Config) canlog.Option {
	return canlog.WithPlugin(New(cfg))
}

// WithDefaultLayoutWatcher enables layout watching with default settings.
func WithDefaultLayoutWatcher() canlog.Option {
	return WithLayoutWatcher(DefaultConfig())
}
