package fs

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// CSVExt is the extension of CSV session files.
const CSVExt = ".csv"

// CSVStorage implements ports.Storage as a wide CSV table per session:
// timestamp, can_id, then one column per signal holding the latest value
// seen for that signal. One row is written per frame.
type CSVStorage struct {
	dir    string
	logger log.Logger

	mu      sync.Mutex
	file    *os.File
	sink    io.Writer
	w       *csv.Writer
	columns map[string]int
	latest  []string
	// committed is the file size after the last successful sync.
	committed int64
}

// NewCSVStorage creates a storage writing CSV tables into dir.
func NewCSVStorage(dir string, logger log.Logger) *CSVStorage {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &CSVStorage{dir: dir, logger: logger}
}

// Open creates the table and writes the header row.
func (s *CSVStorage) Open(ctx context.Context, session domain.Session, layout *domain.SignalLayout) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return "", errors.New("csv table is still open")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, SessionFileName(session, CSVExt))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}

	names := layout.SignalNames()
	s.columns = make(map[string]int, len(names))
	header := append([]string{"timestamp", "can_id"}, names...)
	for i, n := range names {
		s.columns[n] = i
	}
	s.latest = make([]string, len(names))
	s.file = f
	s.sink = f
	s.w = csv.NewWriter(f)
	s.committed = 0

	if err := s.w.Write(header); err != nil {
		s.closeFile()
		return "", err
	}
	if err := s.flush(); err != nil {
		s.closeFile()
		return "", err
	}
	return path, nil
}

// Write appends one row per frame and syncs the file.
func (s *CSVStorage) Write(ctx context.Context, samples []domain.DecodedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("csv table is not open")
	}
	prev := append([]string(nil), s.latest...)
	if err := s.writeRows(samples); err != nil {
		copy(s.latest, prev)
		if rerr := s.rollback(); rerr != nil {
			s.logger.Error("csv table rollback failed", log.Err(rerr))
		}
		return err
	}
	return nil
}

func (s *CSVStorage) writeRows(samples []domain.DecodedSample) error {
	for i := 0; i < len(samples); {
		// Samples of one frame share timestamp and id and are contiguous.
		j := i
		for j < len(samples) && samples[j].FrameID == samples[i].FrameID && samples[j].Timestamp.Equal(samples[i].Timestamp) {
			if col, ok := s.columns[samples[j].Signal]; ok {
				s.latest[col] = strconv.FormatFloat(samples[j].Value, 'f', -1, 64)
			}
			j++
		}
		row := make([]string, 0, 2+len(s.latest))
		row = append(row,
			samples[i].Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			fmt.Sprintf("0x%X", samples[i].FrameID),
		)
		row = append(row, s.latest...)
		if err := s.w.Write(row); err != nil {
			return err
		}
		i = j
	}
	return s.flush()
}

// Close flushes and closes the table.
func (s *CSVStorage) Close(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.flush()
	if cerr := s.closeFile(); err == nil {
		err = cerr
	}
	return err
}

func (s *CSVStorage) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	off, err := s.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	s.committed = off
	return nil
}

// rollback drops the rows written since the last successful sync. The
// csv.Writer keeps its error, so it is replaced.
func (s *CSVStorage) rollback() error {
	s.w = csv.NewWriter(s.sink)
	if err := s.file.Truncate(s.committed); err != nil {
		return err
	}
	_, err := s.file.Seek(s.committed, io.SeekStart)
	return err
}

func (s *CSVStorage) closeFile() error {
	err := s.file.Close()
	s.file, s.w = nil, nil
	return err
}
