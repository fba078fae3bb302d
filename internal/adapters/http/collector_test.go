package http

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/canlog/internal/adapters/fs"
	"github.com/bft-labs/canlog/internal/domain"
)

type collected struct {
	mu      sync.Mutex
	paths   []string
	header  fs.Header
	footer  fs.Footer
	samples []map[string]any
	auth    string
}

func newCollector(t *testing.T, c *collected, failSamples bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.paths = append(c.paths, r.URL.Path)
		c.auth = r.Header.Get("Authorization")

		switch {
		case strings.HasSuffix(r.URL.Path, "/samples"):
			if failSamples {
				http.Error(w, "collector busy", http.StatusServiceUnavailable)
				return
			}
			if r.Header.Get("Content-Encoding") != "gzip" {
				http.Error(w, "want gzip", http.StatusBadRequest)
				return
			}
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			dec := json.NewDecoder(zr)
			for {
				var m map[string]any
				if err := dec.Decode(&m); err == io.EOF {
					break
				} else if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				c.samples = append(c.samples, m)
			}
		case strings.HasSuffix(r.URL.Path, "/close"):
			_ = json.NewDecoder(r.Body).Decode(&c.footer)
		default:
			_ = json.NewDecoder(r.Body).Decode(&c.header)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLayout(t *testing.T) *domain.SignalLayout {
	t.Helper()
	l, err := domain.NewSignalLayout(domain.MessageLayout{ID: 0x25, Signals: []domain.SignalDef{
		{Name: "SteeringAngle", Length: 16, Signed: true, Scale: 0.1, Unit: "deg"},
	}})
	require.NoError(t, err)
	return l
}

func TestCollectorStorage_Session(t *testing.T) {
	c := &collected{}
	srv := newCollector(t, c, false)
	s := NewCollectorStorage(srv.Client(), srv.URL, "secret", nil)
	ctx := context.Background()

	session := domain.Session{ID: "abc", StartTime: time.Unix(1700000000, 0).UTC(), Source: "can0"}
	dest, err := s.Open(ctx, session, testLayout(t))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v1/sessions/abc", dest)

	ts := session.StartTime
	require.NoError(t, s.Write(ctx, []domain.DecodedSample{
		{Timestamp: ts, FrameID: 0x25, Signal: "SteeringAngle", Value: 10, Unit: "deg"},
		{Timestamp: ts.Add(time.Millisecond), FrameID: 0x25, Signal: "SteeringAngle", Value: 11, Unit: "deg"},
	}))
	session.Seal(ts.Add(time.Second), domain.StatusStoppedByRequest, nil)
	require.NoError(t, s.Close(ctx, session))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{"/v1/sessions/abc", "/v1/sessions/abc/samples", "/v1/sessions/abc/close"}, c.paths)
	assert.Equal(t, "Bearer secret", c.auth)
	assert.Equal(t, fs.LogFormat, c.header.Format)
	assert.Equal(t, "abc", c.header.Session)
	require.Len(t, c.samples, 2)
	assert.Equal(t, "SteeringAngle", c.samples[0]["s"])
	assert.Equal(t, 11.0, c.samples[1]["v"])
	assert.Equal(t, domain.StatusStoppedByRequest, c.footer.Status)
}

func TestCollectorStorage_Non2xxIsError(t *testing.T) {
	c := &collected{}
	srv := newCollector(t, c, true)
	s := NewCollectorStorage(srv.Client(), srv.URL, "", nil)
	ctx := context.Background()

	_, err := s.Open(ctx, domain.Session{ID: "x"}, testLayout(t))
	require.NoError(t, err)

	err = s.Write(ctx, []domain.DecodedSample{{Signal: "SteeringAngle", Value: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Empty(t, c.auth)
}

func TestCollectorStorage_WriteWithoutSession(t *testing.T) {
	s := NewCollectorStorage(http.DefaultClient, "http://127.0.0.1:0", "", nil)
	assert.Error(t, s.Write(context.Background(), []domain.DecodedSample{{}}))
}
