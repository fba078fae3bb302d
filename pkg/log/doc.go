// Package log provides a logging abstraction for canlog components.
//
// This package defines a Logger interface that can be implemented by any
// logging library. A zerolog adapter and a no-op logger are provided.
//
// # Usage
//
// Console output only:
//
//	logger := log.NewZerologAdapter()
//
// Console plus a rotating file, as the CLI does for every run:
//
//	logger, err := log.NewZerologAdapterWithOptions(log.Options{
//	    Level: "info",
//	    File:  "/var/log/canlog/canlog.log",
//	})
//
// Or discard everything in tests:
//
//	logger := log.NewNoopLogger()
package log
