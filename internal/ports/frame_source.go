package ports

import (
	"context"

	"github.com/bft-labs/canlog/internal/domain"
)

// FrameSource produces raw frames from a bus interface.
// The sequence is unbounded and not restartable once Close is called or the
// link fails.
type FrameSource interface {
	// Open connects to the underlying interface.
	Open(ctx context.Context) error

	// Receive blocks until a frame arrives, ctx is done or the link fails.
	// It returns ctx.Err() on cancellation and an error matching
	// domain.ErrBus when the link is down.
	Receive(ctx context.Context) (domain.RawFrame, error)

	// Name identifies the source in logs and session metadata.
	Name() string

	// Close releases the link and unblocks a pending Receive.
	Close() error
}
