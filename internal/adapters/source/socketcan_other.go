//go:build !linux

package source

import (
	"context"
	"errors"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

var errSocketCANUnsupported = errors.New("socketcan is only supported on linux")

// SocketCAN is unavailable on this platform.
type SocketCAN struct {
	iface string
}

// NewSocketCAN returns a source whose Open always fails.
func NewSocketCAN(iface string, logger log.Logger) *SocketCAN {
	return &SocketCAN{iface: iface}
}

// Name implements ports.FrameSource.
func (s *SocketCAN) Name() string { return "socketcan:" + s.iface }

// Open implements ports.FrameSource.
func (s *SocketCAN) Open(ctx context.Context) error { return errSocketCANUnsupported }

// Receive implements ports.FrameSource.
func (s *SocketCAN) Receive(ctx context.Context) (domain.RawFrame, error) {
	return domain.RawFrame{}, domain.NewBusError(s.Name(), errSocketCANUnsupported)
}

// Close implements ports.FrameSource.
func (s *SocketCAN) Close() error { return nil }
