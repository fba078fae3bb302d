package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"sync"

	"github.com/bft-labs/canlog/internal/adapters/fs"
	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/internal/ports"
	"github.com/bft-labs/canlog/pkg/log"
)

const sessionsEndpoint = "/v1/sessions/"

// CollectorStorage implements ports.Storage by posting session records to a
// remote collector. Each Write is one gzip'd JSON lines request; a 2xx
// response is the durability acknowledgment.
type CollectorStorage struct {
	client  ports.HTTPClient
	baseURL string
	authKey string
	logger  log.Logger

	mu      sync.Mutex
	session string
}

// NewCollectorStorage creates a collector storage for baseURL.
func NewCollectorStorage(client ports.HTTPClient, baseURL, authKey string, logger log.Logger) *CollectorStorage {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &CollectorStorage{
		client:  client,
		baseURL: baseURL,
		authKey: authKey,
		logger:  logger,
	}
}

// Open announces the session with its header record.
func (s *CollectorStorage) Open(ctx context.Context, session domain.Session, layout *domain.SignalLayout) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != "" {
		return "", fmt.Errorf("session %s is still open", s.session)
	}
	u := s.url(session.ID, "")
	if err := s.postJSON(ctx, u, session.ID, fs.NewHeader(session, layout)); err != nil {
		return "", err
	}
	s.session = session.ID
	return u, nil
}

// Write posts the samples and returns once the collector acknowledged them.
func (s *CollectorStorage) Write(ctx context.Context, samples []domain.DecodedSample) error {
	s.mu.Lock()
	id := s.session
	s.mu.Unlock()

	if id == "" {
		return errors.New("no open session")
	}
	if len(samples) == 0 {
		return nil
	}

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	if err := fs.EncodeSamples(json.NewEncoder(zw), samples); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress samples: %w", err)
	}

	req, err := s.newRequest(ctx, s.url(id, "/samples"), id, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")
	return s.do(req)
}

// Close posts the footer record.
func (s *CollectorStorage) Close(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == "" {
		return nil
	}
	s.session = ""
	return s.postJSON(ctx, s.url(session.ID, "/close"), session.ID, fs.NewFooter(session))
}

func (s *CollectorStorage) url(id, suffix string) string {
	return s.baseURL + sessionsEndpoint + url.PathEscape(id) + suffix
}

func (s *CollectorStorage) postJSON(ctx context.Context, u, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	req, err := s.newRequest(ctx, u, id, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *CollectorStorage) newRequest(ctx context.Context, u, id string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Set headers
	if s.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.authKey)
	}
	req.Header.Set("X-Canlog-Session", id)
	req.Header.Set("X-Canlog-Hostname", hostname())
	req.Header.Set("X-Canlog-OSArch", runtime.GOOS+"/"+runtime.GOARCH)
	return req, nil
}

func (s *CollectorStorage) do(req *http.Request) error {
	// Send request
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Check response
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("collector returned %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
