package canlog

import (
	"github.com/bft-labs/canlog/internal/app"
	"github.com/bft-labs/canlog/internal/domain"
)

// State is the session controller state.
type State int

const (
	// StateIdle means no session is recording.
	StateIdle State = iota
	// StateActive means a session is recording.
	StateActive
	// StateClosing means the session is flushing and sealing.
	StateClosing
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// StateChangeEvent is emitted on every controller state transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// BatchFlushedEvent is emitted after storage acknowledged a batch.
type BatchFlushedEvent struct {
	SessionID string
	Count     int
	Stats     Stats
}

// StorageErrorEvent is emitted for every failed write attempt.
type StorageErrorEvent struct {
	SessionID string
	Error     error
	Attempt   int
}

// SamplesEvictedEvent is emitted when the ring buffer dropped its oldest
// samples to make room.
type SamplesEvictedEvent struct {
	SessionID string
	Count     uint64
}

// SessionEndedEvent is emitted once a session is sealed.
type SessionEndedEvent struct {
	Session Session
}

// LayoutChangedEvent is emitted when SetLayout replaced the layout used by
// the next session.
type LayoutChangedEvent struct {
	Messages int
	Signals  int
}

// EventHandler receives notifications about canlog operations.
// Methods are called synchronously from the recording goroutines and must
// return quickly.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnBatchFlushed(BatchFlushedEvent)
	OnStorageError(StorageErrorEvent)
	OnSamplesEvicted(SamplesEvictedEvent)
	OnSessionEnded(SessionEndedEvent)
	OnLayoutChanged(LayoutChangedEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// override only some methods.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)       {}
func (BaseEventHandler) OnBatchFlushed(BatchFlushedEvent)     {}
func (BaseEventHandler) OnStorageError(StorageErrorEvent)     {}
func (BaseEventHandler) OnSamplesEvicted(SamplesEvictedEvent) {}
func (BaseEventHandler) OnSessionEnded(SessionEndedEvent)     {}
func (BaseEventHandler) OnLayoutChanged(LayoutChangedEvent)   {}

// eventEmitterWrapper adapts EventHandler to app.Events.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnBatchFlushed(sessionID string, count int, stats domain.Stats) {
	if e.handler == nil {
		return
	}
	e.handler.OnBatchFlushed(BatchFlushedEvent{SessionID: sessionID, Count: count, Stats: stats})
}

func (e *eventEmitterWrapper) OnStorageError(sessionID string, err error, attempt int) {
	if e.handler == nil {
		return
	}
	e.handler.OnStorageError(StorageErrorEvent{SessionID: sessionID, Error: err, Attempt: attempt})
}

func (e *eventEmitterWrapper) OnSamplesEvicted(sessionID string, count uint64) {
	if e.handler == nil {
		return
	}
	e.handler.OnSamplesEvicted(SamplesEvictedEvent{SessionID: sessionID, Count: count})
}

func (e *eventEmitterWrapper) OnSessionEnded(session domain.Session) {
	if e.handler == nil {
		return
	}
	e.handler.OnSessionEnded(SessionEndedEvent{Session: session})
}

func (e *eventEmitterWrapper) onLayoutChanged(layout *domain.SignalLayout) {
	if e.handler == nil {
		return
	}
	signals := 0
	for _, m := range layout.Messages() {
		signals += len(m.Signals)
	}
	e.handler.OnLayoutChanged(LayoutChangedEvent{Messages: layout.Len(), Signals: signals})
}

func convertState(s app.State) State {
	switch s {
	case app.StateIdle:
		return StateIdle
	case app.StateActive:
		return StateActive
	case app.StateClosing:
		return StateClosing
	default:
		return StateIdle
	}
}
