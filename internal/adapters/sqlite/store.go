// Package sqlite stores sessions and decoded samples in a SQLite database.
// The schema is managed by embedded golang-migrate migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/bft-labs/canlog/internal/decode"
	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Store implements ports.Storage on a SQLite database. Each Write is one
// transaction; the commit is the durability acknowledgment.
type Store struct {
	path   string
	logger log.Logger

	mu      sync.Mutex
	db      *sql.DB
	session string
}

// NewStore creates a store for the database at path.
func NewStore(path string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Store{path: path, logger: logger}
}

// OpenDB opens the database at path and applies pending migrations.
func OpenDB(path string, logger log.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrateUp(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB, logger log.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: logger}

	// m.Close would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Open opens the database and inserts the session row.
func (s *Store) Open(ctx context.Context, session domain.Session, layout *domain.SignalLayout) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != "" {
		return "", fmt.Errorf("session %s is still open", s.session)
	}
	if s.db == nil {
		db, err := OpenDB(s.path, s.logger)
		if err != nil {
			return "", err
		}
		s.db = db
	}

	layoutJSON, err := json.Marshal(decode.ToFile(layout))
	if err != nil {
		return "", err
	}
	status, _ := session.Status.MarshalText()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, start_ns, source, status, layout_json) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.StartTime.UnixNano(), session.Source, string(status), string(layoutJSON))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	s.session = session.ID
	return s.path, nil
}

// Write inserts the samples in one transaction.
func (s *Store) Write(ctx context.Context, samples []domain.DecodedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == "" {
		return errors.New("no open session")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (session_id, t_ns, can_id, signal, value, unit) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, smp := range samples {
		if _, err := stmt.ExecContext(ctx, s.session, smp.Timestamp.UnixNano(), int64(smp.FrameID), smp.Signal, smp.Value, smp.Unit); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// Close records the final session metadata and closes the database.
func (s *Store) Close(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	var err error
	if s.session != "" {
		err = s.seal(ctx, session)
		s.session = ""
	}
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	s.db = nil
	return err
}

func (s *Store) seal(ctx context.Context, session domain.Session) error {
	stats, err := json.Marshal(session.Stats)
	if err != nil {
		return err
	}
	var end sql.NullInt64
	if session.EndTime != nil {
		end = sql.NullInt64{Int64: session.EndTime.UnixNano(), Valid: true}
	}
	status, _ := session.Status.MarshalText()
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET end_ns = ?, status = ?, error = ?, stats_json = ? WHERE id = ?`,
		end, string(status), session.Error, string(stats), session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// ReadSamples returns the samples of a session in timestamp order.
func ReadSamples(ctx context.Context, db *sql.DB, sessionID string) ([]domain.DecodedSample, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT t_ns, can_id, signal, value, unit FROM samples WHERE session_id = ? ORDER BY t_ns, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DecodedSample
	for rows.Next() {
		var (
			tns int64
			id  int64
			smp domain.DecodedSample
		)
		if err := rows.Scan(&tns, &id, &smp.Signal, &smp.Value, &smp.Unit); err != nil {
			return nil, err
		}
		smp.Timestamp = time.Unix(0, tns).UTC()
		smp.FrameID = uint32(id)
		out = append(out, smp)
	}
	return out, rows.Err()
}

// ReadSession returns the stored metadata of a session.
func ReadSession(ctx context.Context, db *sql.DB, id string) (domain.Session, error) {
	var (
		s      = domain.Session{ID: id}
		start  int64
		end    sql.NullInt64
		status string
		stats  sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT start_ns, end_ns, source, status, error, stats_json FROM sessions WHERE id = ?`, id).
		Scan(&start, &end, &s.Source, &status, &s.Error, &stats)
	if err != nil {
		return domain.Session{}, err
	}
	s.StartTime = time.Unix(0, start).UTC()
	if end.Valid {
		t := time.Unix(0, end.Int64).UTC()
		s.EndTime = &t
	}
	_ = s.Status.UnmarshalText([]byte(status))
	if stats.Valid {
		if err := json.Unmarshal([]byte(stats.String), &s.Stats); err != nil {
			return domain.Session{}, err
		}
	}
	return s, nil
}

// migrateLogger adapts log.Logger to migrate.Logger.
type migrateLogger struct {
	logger log.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l migrateLogger) Verbose() bool {
	return false
}
