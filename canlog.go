// Package canlog provides a one-call entry point for recording a CAN bus
// session.
//
// Example usage:
//
//	cfg := canlog.Config{
//	    Source:     canlog.SourceConfig{Kind: "socketcan", Interface: "can0"},
//	    LayoutPath: "vehicle.toml",
//	    LogDir:     "/var/lib/canlog",
//	}
//	session, err := canlog.Run(ctx, cfg)
//
// For control over sessions use pkg/canlog directly.
package canlog

import (
	"context"

	"github.com/bft-labs/canlog/pkg/canlog"
)

// Config holds the configuration of a recording.
type Config = canlog.Config

// SourceConfig selects the frame source.
type SourceConfig = canlog.SourceConfig

// Session is one continuous logging run.
type Session = canlog.Session

// Option configures the recorder.
type Option = canlog.Option

// Run records one session. It blocks until ctx is cancelled or the session
// ends on a bus or storage failure, and returns the sealed session. A
// cancelled ctx is a normal stop and returns a nil error.
func Run(ctx context.Context, cfg Config, opts ...Option) (Session, error) {
	c, err := canlog.New(cfg, opts...)
	if err != nil {
		return Session{}, err
	}
	defer c.Close(context.Background())

	if _, err := c.Start(ctx); err != nil {
		return Session{}, err
	}
	return c.Wait(context.Background())
}
