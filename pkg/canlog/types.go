package canlog

import (
	"time"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/internal/ports"
	"github.com/bft-labs/canlog/pkg/log"
)

// Re-exported domain types.
type (
	RawFrame      = domain.RawFrame
	SignalDef     = domain.SignalDef
	MessageLayout = domain.MessageLayout
	SignalLayout  = domain.SignalLayout
	DecodedSample = domain.DecodedSample
	Session       = domain.Session
	Stats         = domain.Stats
	Status        = domain.Status
	BusError      = domain.BusError
	StorageError  = domain.StorageError
)

// Ports for custom adapters.
type (
	FrameSource       = ports.FrameSource
	Storage           = ports.Storage
	SessionRepository = ports.SessionRepository
	StorageGate       = ports.StorageGate
	HTTPClient        = ports.HTTPClient
)

// Logger is the structured logging interface. See pkg/log.
type Logger = log.Logger

// Session statuses.
const (
	StatusActive              = domain.StatusActive
	StatusStoppedByRequest    = domain.StatusStoppedByRequest
	StatusStoppedBusError     = domain.StatusStoppedBusError
	StatusStoppedStorageError = domain.StatusStoppedStorageError
)

// Errors. Match with errors.Is.
var (
	ErrBus           = domain.ErrBus
	ErrStorage       = domain.ErrStorage
	ErrAlreadyActive = domain.ErrAlreadyActive
	ErrNotActive     = domain.ErrNotActive
	ErrStopTimeout   = domain.ErrStopTimeout
	ErrInvalidConfig = domain.ErrInvalidConfig
	ErrInvalidLayout = domain.ErrInvalidLayout
)

// NewSignalLayout builds and validates a layout.
func NewSignalLayout(messages ...MessageLayout) (*SignalLayout, error) {
	return domain.NewSignalLayout(messages...)
}

// NewRawFrame builds a frame from an id and up to 8 payload bytes.
func NewRawFrame(id uint32, payload []byte, ts time.Time) (RawFrame, error) {
	return domain.NewRawFrame(id, payload, ts)
}
