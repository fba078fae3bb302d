// Package canlog provides an embeddable CAN bus telemetry logger.
//
// Canlog receives raw frames from a CAN interface (SocketCAN, an SLCAN
// serial adapter or a recorded capture), decodes them into physical signal
// values using a [SignalLayout] and writes the samples to durable storage in
// sessions. It can be used as a standalone CLI application or embedded as a
// library in other Go programs.
//
// # Basic Usage
//
//	cfg := canlog.Config{
//	    Source:     canlog.SourceConfig{Kind: "socketcan", Interface: "can0"},
//	    LayoutPath: "/etc/canlog/layout.toml",
//	    LogDir:     "/var/lib/canlog",
//	}
//
//	logger, err := canlog.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := logger.Start(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... record until shutdown signal ...
//
//	sealed, err := logger.Stop(ctx)
//
// Reception never waits for storage. Decoded samples go into a bounded ring
// buffer that a flusher drains in batches; when storage falls behind, the
// oldest unwritten samples are evicted and counted in [Stats].
//
// # Storage
//
// [Config.Storage] selects the sample sink: JSON lines session logs (the
// default), CSV tables, a SQLite database or a remote collector over HTTP.
// Custom sinks can be injected with [WithStorage].
//
// # Event Handling
//
// Implement [EventHandler] (embedding [BaseEventHandler]) and pass it via
// [WithEventHandler]. Events are called synchronously from the recording
// goroutines and should return quickly.
//
// # Session States
//
// A Canlog instance is [StateIdle], [StateActive] or [StateClosing]. Use
// [Canlog.Status] to query it and [Canlog.Wait] or [Canlog.Done] to learn
// when a session ends on its own after a bus or storage failure.
//
// # Plugins and Cleanup
//
//	import "github.com/bft-labs/canlog/plugins/layoutwatcher"
//
//	logger, err := canlog.New(cfg,
//	    layoutwatcher.WithLayoutWatcher(layoutwatcher.DefaultConfig()),
//	    canlog.WithCleanupConfig(canlog.DefaultCleanupConfig()),
//	    canlog.WithStorageGateConfig(canlog.DefaultStorageGateConfig()),
//	)
package canlog
