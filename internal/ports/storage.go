package ports

import (
	"context"

	"github.com/bft-labs/canlog/internal/domain"
)

// Storage persists decoded samples for one session at a time.
type Storage interface {
	// Open prepares the destination for the session and returns its identity
	// (file path, database path or URL).
	Open(ctx context.Context, session domain.Session, layout *domain.SignalLayout) (string, error)

	// Write persists the samples. A nil return is a durability acknowledgment:
	// the samples survive a crash from this point on.
	Write(ctx context.Context, samples []domain.DecodedSample) error

	// Close seals the destination with the final session metadata.
	Close(ctx context.Context, session domain.Session) error
}

// StorageGate checks the destination before a write.
type StorageGate interface {
	// Check returns an error when the destination cannot accept writes.
	Check() error
}
