package ports

import (
	"context"

	"github.com/bft-labs/canlog/internal/domain"
)

// SessionRepository records session metadata across runs.
// Implementations persist atomically so a crash leaves the previous record intact.
type SessionRepository interface {
	// List returns all recorded sessions, oldest first.
	List(ctx context.Context) ([]domain.Session, error)

	// Save inserts or replaces the session with the same ID.
	Save(ctx context.Context, session domain.Session) error
}
