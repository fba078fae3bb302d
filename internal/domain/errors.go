package domain

import "errors"

// Domain errors represent error conditions in the canlog domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrBus is the class of physical link failures. It ends the session.
	ErrBus = errors.New("canlog: bus error")

	// ErrStorage is the class of write path failures. It is recoverable until
	// buffered samples are being lost for a sustained period.
	ErrStorage = errors.New("canlog: storage error")

	// ErrAlreadyActive is returned when Start() is called while a session is active.
	ErrAlreadyActive = errors.New("canlog: session already active")

	// ErrNotActive is returned when Stop() is called with no active session.
	ErrNotActive = errors.New("canlog: no active session")

	// ErrStopTimeout is returned when closing does not finish within the stop timeout.
	ErrStopTimeout = errors.New("canlog: stop timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("canlog: invalid configuration")

	// ErrInvalidLayout is returned when a signal layout fails validation.
	ErrInvalidLayout = errors.New("canlog: invalid signal layout")
)

// BusError reports that the frame source link is down.
type BusError struct {
	Source string
	Err    error
}

func (e *BusError) Error() string {
	if e.Source == "" {
		return "bus error: " + e.Err.Error()
	}
	return "bus error on " + e.Source + ": " + e.Err.Error()
}

func (e *BusError) Unwrap() error { return e.Err }

// Is matches ErrBus.
func (e *BusError) Is(target error) bool { return target == ErrBus }

// StorageError reports that the storage write path is unavailable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewBusError wraps err as a BusError unless it already is one.
func NewBusError(source string, err error) error {
	if err == nil {
		return nil
	}
	var be *BusError
	if errors.As(err, &be) {
		return err
	}
	return &BusError{Source: source, Err: err}
}

// NewStorageError wraps err as a StorageError unless it already is one.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
