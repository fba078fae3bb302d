package fs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bft-labs/canlog/internal/decode"
	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// LogFormat identifies the session log line format.
const LogFormat = "canlog/v1"

// LogExt is the extension of session log files.
const LogExt = ".canlog"

const maxLineSize = 16 << 20

// Record types.
const (
	recordHeader = "header"
	recordSample = "sample"
	recordFooter = "footer"
)

// Header is the first line of a session log.
type Header struct {
	Type      string            `json:"type"`
	Format    string            `json:"format"`
	Session   string            `json:"session"`
	StartTime time.Time         `json:"start"`
	Source    string            `json:"source,omitempty"`
	Layout    decode.LayoutFile `json:"layout"`
}

// Footer is the last line of a cleanly closed session log.
type Footer struct {
	Type    string        `json:"type"`
	Session string        `json:"session"`
	EndTime time.Time     `json:"end"`
	Status  domain.Status `json:"status"`
	Error   string        `json:"error,omitempty"`
	Stats   domain.Stats  `json:"stats"`
}

// sampleLine is the compact encoding of one decoded sample.
type sampleLine struct {
	Type   string  `json:"type"`
	T      int64   `json:"t"`
	ID     uint32  `json:"id"`
	Signal string  `json:"s"`
	Value  float64 `json:"v"`
	Unit   string  `json:"u,omitempty"`
}

// SessionFileName returns the file name for a session: <start>_<id8><ext>.
func SessionFileName(session domain.Session, ext string) string {
	id := session.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return session.StartTime.UTC().Format("20060102T150405Z") + "_" + id + ext
}

// NewHeader builds the header record for a session.
func NewHeader(session domain.Session, layout *domain.SignalLayout) Header {
	return Header{
		Type:      recordHeader,
		Format:    LogFormat,
		Session:   session.ID,
		StartTime: session.StartTime,
		Source:    session.Source,
		Layout:    decode.ToFile(layout),
	}
}

// NewFooter builds the footer record for a sealed session.
func NewFooter(session domain.Session) Footer {
	f := Footer{
		Type:    recordFooter,
		Session: session.ID,
		Status:  session.Status,
		Error:   session.Error,
		Stats:   session.Stats,
	}
	if session.EndTime != nil {
		f.EndTime = *session.EndTime
	}
	return f
}

// EncodeSamples writes one sample record per line.
func EncodeSamples(enc *json.Encoder, samples []domain.DecodedSample) error {
	for _, smp := range samples {
		line := sampleLine{
			Type:   recordSample,
			T:      smp.Timestamp.UnixNano(),
			ID:     smp.FrameID,
			Signal: smp.Signal,
			Value:  smp.Value,
			Unit:   smp.Unit,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	return nil
}

// LogStorage implements ports.Storage as an append-only JSON lines file
// per session. Every Write ends with an fsync.
type LogStorage struct {
	dir    string
	logger log.Logger

	mu   sync.Mutex
	file *os.File
	sink io.Writer
	w    *bufio.Writer
	enc  *json.Encoder
	path string
	// committed is the file size after the last successful sync.
	committed int64
}

// NewLogStorage creates a storage writing session logs into dir.
func NewLogStorage(dir string, logger log.Logger) *LogStorage {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &LogStorage{dir: dir, logger: logger}
}

// Open creates the session log and writes its header.
func (s *LogStorage) Open(ctx context.Context, session domain.Session, layout *domain.SignalLayout) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return "", fmt.Errorf("log %s is still open", s.path)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, SessionFileName(session, LogExt))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	s.file = f
	s.sink = f
	s.w = bufio.NewWriterSize(f, 64<<10)
	s.enc = json.NewEncoder(s.w)
	s.path = path
	s.committed = 0

	if err := s.enc.Encode(NewHeader(session, layout)); err != nil {
		s.abort()
		return "", fmt.Errorf("write header: %w", err)
	}
	if err := s.sync(); err != nil {
		s.abort()
		return "", err
	}

	s.logger.Debug("session log opened", log.String("path", path))
	return path, nil
}

// Write appends the samples and returns once they are on disk. A failed
// Write leaves the file as it was after the previous successful one, so
// the same batch can be retried.
func (s *LogStorage) Write(ctx context.Context, samples []domain.DecodedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("log is not open")
	}
	err := EncodeSamples(s.enc, samples)
	if err == nil {
		err = s.sync()
	}
	if err != nil {
		if rerr := s.rollback(); rerr != nil {
			s.logger.Error("session log rollback failed", log.String("path", s.path), log.Err(rerr))
		}
		return err
	}
	return nil
}

// Close writes the footer and closes the file.
func (s *LogStorage) Close(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.enc.Encode(NewFooter(session))
	if err == nil {
		err = s.sync()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file, s.w, s.enc = nil, nil, nil
	return err
}

func (s *LogStorage) sync() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	s.committed = off
	return nil
}

// rollback drops everything written since the last successful sync and
// clears the sticky error of the buffered writer.
func (s *LogStorage) rollback() error {
	s.w.Reset(s.sink)
	if err := s.file.Truncate(s.committed); err != nil {
		return err
	}
	_, err := s.file.Seek(s.committed, io.SeekStart)
	return err
}

func (s *LogStorage) abort() {
	_ = s.file.Close()
	_ = os.Remove(s.path)
	s.file, s.w, s.enc = nil, nil, nil
}

// Log is a parsed session log.
type Log struct {
	Header  Header
	Samples []domain.DecodedSample
	// Footer is nil when the session did not close cleanly.
	Footer *Footer
	// Truncated is set when the final line was cut short by a crash.
	Truncated bool
}

// ReadLog parses a session log.
func ReadLog(r io.Reader) (*Log, error) {
	var out Log
	err := ScanLog(r, func(h Header) error {
		out.Header = h
		return nil
	}, func(s domain.DecodedSample) error {
		out.Samples = append(out.Samples, s)
		return nil
	}, func(f Footer) {
		out.Footer = &f
	}, func() {
		out.Truncated = true
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ScanLog streams a session log through the callbacks. onFooter and
// onTruncated may be nil.
func ScanLog(r io.Reader, onHeader func(Header) error, onSample func(domain.DecodedSample) error, onFooter func(Footer), onTruncated func()) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	lineNo := 0
	var pending error
	for sc.Scan() {
		lineNo++
		if pending != nil {
			return pending
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			// Only the last line may be torn.
			pending = fmt.Errorf("line %d: %w", lineNo, err)
			continue
		}

		switch rec.Type {
		case recordHeader:
			var h Header
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			if h.Format != LogFormat {
				return fmt.Errorf("line %d: unsupported format %q", lineNo, h.Format)
			}
			if err := onHeader(h); err != nil {
				return err
			}
		case recordSample:
			if lineNo == 1 {
				return errors.New("missing header")
			}
			var l sampleLine
			if err := json.Unmarshal(line, &l); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			if err := onSample(domain.DecodedSample{
				Timestamp: time.Unix(0, l.T).UTC(),
				FrameID:   l.ID,
				Signal:    l.Signal,
				Value:     l.Value,
				Unit:      l.Unit,
			}); err != nil {
				return err
			}
		case recordFooter:
			var f Footer
			if err := json.Unmarshal(line, &f); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			if onFooter != nil {
				onFooter(f)
			}
		default:
			return fmt.Errorf("line %d: unknown record type %q", lineNo, rec.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if lineNo == 0 {
		return errors.New("empty log")
	}
	if pending != nil && onTruncated != nil {
		onTruncated()
	}
	return nil
}

// ReadLogFile opens and parses a session log.
func ReadLogFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLog(f)
}
