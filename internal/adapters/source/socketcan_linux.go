//go:build linux

package source

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.einride.tech/can/pkg/socketcan"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// SocketCAN receives frames from a Linux SocketCAN interface.
type SocketCAN struct {
	iface  string
	logger log.Logger

	conn net.Conn
	recv *socketcan.Receiver

	// ErrorFrames counts bus error frames reported by the controller.
	ErrorFrames atomic.Uint64
}

// NewSocketCAN creates a source for iface (for example can0).
func NewSocketCAN(iface string, logger log.Logger) *SocketCAN {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &SocketCAN{iface: iface, logger: logger}
}

// Name implements ports.FrameSource.
func (s *SocketCAN) Name() string { return "socketcan:" + s.iface }

// Open dials the interface.
func (s *SocketCAN) Open(ctx context.Context) error {
	conn, err := socketcan.DialContext(ctx, "can", s.iface)
	if err != nil {
		return err
	}
	s.conn = conn
	s.recv = socketcan.NewReceiver(conn)
	return nil
}

// Receive blocks until a data frame arrives. Cancelling ctx closes the
// socket so the blocked read returns.
func (s *SocketCAN) Receive(ctx context.Context) (domain.RawFrame, error) {
	if s.recv == nil {
		return domain.RawFrame{}, errors.New("socketcan source is not open")
	}
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for s.recv.Receive() {
		if s.recv.HasErrorFrame() {
			s.ErrorFrames.Add(1)
			s.logger.Warn("bus error frame", log.String("interface", s.iface), log.Any("frame", s.recv.ErrorFrame()))
			continue
		}
		return domain.RawFrame{Frame: s.recv.Frame(), Timestamp: time.Now()}, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.RawFrame{}, err
	}
	err := s.recv.Err()
	if err == nil {
		err = io.EOF
	}
	return domain.RawFrame{}, domain.NewBusError(s.Name(), err)
}

// Close implements ports.FrameSource.
func (s *SocketCAN) Close() error {
	if s.recv == nil {
		return nil
	}
	return s.recv.Close()
}
