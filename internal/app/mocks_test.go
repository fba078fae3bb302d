package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/canlog/internal/domain"
)

var errDiskGone = errors.New("disk gone")

// memStorage collects written samples. Writes fail while failing is set.
type memStorage struct {
	mu       sync.Mutex
	samples  []domain.DecodedSample
	writes   int
	failN    int // fail this many writes, then succeed
	failing  bool
	delay    time.Duration
	opened   []domain.Session
	closed   []domain.Session
	openErr  error
	closeErr error
}

func (m *memStorage) Open(ctx context.Context, s domain.Session, layout *domain.SignalLayout) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return "", m.openErr
	}
	m.opened = append(m.opened, s)
	return "mem://" + s.ID, nil
}

func (m *memStorage) Write(ctx context.Context, samples []domain.DecodedSample) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failing {
		return errDiskGone
	}
	if m.failN > 0 {
		m.failN--
		return errDiskGone
	}
	m.samples = append(m.samples, samples...)
	return nil
}

func (m *memStorage) Close(ctx context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, s)
	return m.closeErr
}

func (m *memStorage) setFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = v
}

func (m *memStorage) Samples() []domain.DecodedSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DecodedSample{}, m.samples...)
}

func (m *memStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// gateFunc adapts a function to ports.StorageGate.
type gateFunc func() error

func (f gateFunc) Check() error { return f() }

// countingObserver counts recorder notifications.
type countingObserver struct {
	mu      sync.Mutex
	flushed int
	errors  int
	evicted uint64
}

func (o *countingObserver) OnBatchFlushed(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushed += count
}

func (o *countingObserver) OnStorageError(err error, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
}

func (o *countingObserver) OnSamplesEvicted(count uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted += count
}

func sample(i int) domain.DecodedSample {
	return domain.DecodedSample{
		Timestamp: time.Unix(0, int64(i)),
		FrameID:   0x25,
		Signal:    "SteeringAngle",
		Value:     float64(i),
		Unit:      "deg",
	}
}

func balanced(s domain.Stats) bool {
	return s.Produced == s.Flushed+s.Evicted+s.Buffered
}

// chanSource delivers frames pushed on a channel.
type chanSource struct {
	frames    chan domain.RawFrame
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
	openErr   error
	// wedged, when non-nil, makes Receive ignore cancellation and Close
	// until it is closed.
	wedged chan struct{}
}

func newChanSource() *chanSource {
	return &chanSource{
		frames: make(chan domain.RawFrame, 1024),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *chanSource) Open(ctx context.Context) error { return s.openErr }

func (s *chanSource) Name() string { return "chan" }

func (s *chanSource) Receive(ctx context.Context) (domain.RawFrame, error) {
	if s.wedged != nil {
		<-s.wedged
		return domain.RawFrame{}, errors.New("unwedged")
	}
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return domain.RawFrame{}, err
	case <-ctx.Done():
		return domain.RawFrame{}, ctx.Err()
	case <-s.closed:
		return domain.RawFrame{}, errors.New("source closed")
	}
}

func (s *chanSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// memRepository keeps sessions in memory.
type memRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func (m *memRepository) List(ctx context.Context) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRepository) Save(ctx context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]domain.Session)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memRepository) Get(id string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// recordingEvents records controller events.
type recordingEvents struct {
	mockEmitter
	mu      sync.Mutex
	flushed int
	errors  int
	evicted uint64
	ended   []domain.Session
}

func (e *recordingEvents) OnBatchFlushed(id string, count int, stats domain.Stats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushed += count
}

func (e *recordingEvents) OnStorageError(id string, err error, attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors++
}

func (e *recordingEvents) OnSamplesEvicted(id string, count uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted += count
}

func (e *recordingEvents) OnSessionEnded(s domain.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, s)
}

func (e *recordingEvents) Ended() []domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Session{}, e.ended...)
}
