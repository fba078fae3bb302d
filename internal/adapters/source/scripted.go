package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bft-labs/canlog/internal/domain"
)

var errClosed = errors.New("source closed")

// Scripted replays a fixed frame sequence.
// After the last frame it returns End, or blocks until cancelled when Hold is set.
type Scripted struct {
	Frames []domain.RawFrame
	// End is returned after the last frame. Defaults to io.EOF.
	End error
	// Hold keeps the link open after the last frame.
	Hold bool

	mu     sync.Mutex
	next   int
	closed chan struct{}
	once   sync.Once
}

// NewScripted creates a scripted source over frames.
func NewScripted(frames ...domain.RawFrame) *Scripted {
	return &Scripted{Frames: frames}
}

// Name implements ports.FrameSource.
func (s *Scripted) Name() string { return "scripted" }

// Open implements ports.FrameSource.
func (s *Scripted) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return nil
}

// Receive returns the next frame.
func (s *Scripted) Receive(ctx context.Context) (domain.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawFrame{}, err
	}
	s.mu.Lock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	closed := s.closed
	select {
	case <-closed:
		s.mu.Unlock()
		return domain.RawFrame{}, domain.NewBusError(s.Name(), errClosed)
	default:
	}
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	if s.Hold {
		select {
		case <-ctx.Done():
			return domain.RawFrame{}, ctx.Err()
		case <-closed:
			return domain.RawFrame{}, domain.NewBusError(s.Name(), errClosed)
		}
	}
	end := s.End
	if end == nil {
		end = io.EOF
	}
	return domain.RawFrame{}, domain.NewBusError(s.Name(), end)
}

// Close implements ports.FrameSource.
func (s *Scripted) Close() error {
	s.mu.Lock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	closed := s.closed
	s.mu.Unlock()
	s.once.Do(func() { close(closed) })
	return nil
}
