package domain

import "time"

// Status is the terminal status of a session.
type Status int

const (
	// StatusActive means the session is still recording.
	StatusActive Status = iota
	// StatusStoppedByRequest means Stop() ended the session.
	StatusStoppedByRequest
	// StatusStoppedBusError means the frame source link failed.
	StatusStoppedBusError
	// StatusStoppedStorageError means storage stayed unavailable while samples were lost.
	StatusStoppedStorageError
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStoppedByRequest:
		return "stopped by request"
	case StatusStoppedBusError:
		return "stopped due to bus error"
	case StatusStoppedStorageError:
		return "stopped due to storage error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for _, c := range []Status{StatusActive, StatusStoppedByRequest, StatusStoppedBusError, StatusStoppedStorageError} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	*s = StatusActive
	return nil
}

// Stats are the recorder counters at the end of (or during) a session.
// Produced == Flushed + Evicted + Buffered holds for every snapshot.
type Stats struct {
	Frames        uint64 `json:"frames"`
	UnknownFrames uint64 `json:"unknown_frames"`
	Skipped       uint64 `json:"skipped"`
	Clamped       uint64 `json:"clamped"`
	Produced      uint64 `json:"produced"`
	Flushed       uint64 `json:"flushed"`
	Evicted       uint64 `json:"evicted"`
	Buffered      uint64 `json:"buffered"`
	StorageErrors uint64 `json:"storage_errors"`
}

// Session is one continuous logging run.
type Session struct {
	ID          string     `json:"id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Destination string     `json:"destination"`
	Source      string     `json:"source"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Stats       Stats      `json:"stats"`
}

// Active returns true while the session has not been sealed.
func (s Session) Active() bool {
	return s.EndTime == nil
}

// Seal sets the end time and terminal status.
func (s *Session) Seal(at time.Time, status Status, err error) {
	t := at
	s.EndTime = &t
	s.Status = status
	if err != nil {
		s.Error = err.Error()
	}
}

// Duration returns the session length, or the time since start while active.
func (s Session) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}
