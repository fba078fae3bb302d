package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bft-labs/canlog/internal/domain"
)

const sessionsFileName = "sessions.json"

// SessionFileRepository implements ports.SessionRepository using a JSON file.
type SessionFileRepository struct {
	dir string
	mu  sync.Mutex
}

// NewSessionFileRepository creates a new SessionFileRepository for the given directory.
func NewSessionFileRepository(dir string) *SessionFileRepository {
	return &SessionFileRepository{dir: dir}
}

// List returns all recorded sessions ordered by start time.
// Returns an empty list and nil error if no sessions file exists.
func (r *SessionFileRepository) List(ctx context.Context) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Save inserts or replaces the session with the same ID.
// Uses atomic write (write to temp file, then rename) to prevent corruption.
func (r *SessionFileRepository) Save(ctx context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range sessions {
		if sessions[i].ID == session.ID {
			sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	// Ensure directory exists
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	path := r.Path()
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmp, path)
}

// Path returns the full path to the sessions file.
func (r *SessionFileRepository) Path() string {
	return filepath.Join(r.dir, sessionsFileName)
}

func (r *SessionFileRepository) load() ([]domain.Session, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []domain.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
