package source

import (
	"fmt"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/internal/ports"
	"github.com/bft-labs/canlog/pkg/log"
)

// Source kinds.
const (
	KindSocketCAN = "socketcan"
	KindSLCAN     = "slcan"
	KindCandump   = "candump"
	KindPCAP      = "pcap"
)

// Config selects and configures a frame source.
type Config struct {
	Kind string
	// Interface is the SocketCAN interface name.
	Interface string
	// Device is the SLCAN serial device.
	Device string
	// Baud is the SLCAN serial speed.
	Baud int
	// Bitrate is the CAN bus bitrate configured on SLCAN adapters.
	Bitrate int
	// File is the capture replayed by candump and pcap sources.
	File string
	// Realtime paces replayed frames at their recorded rate.
	Realtime bool
}

// New creates the source described by cfg. Each call returns a fresh,
// unopened source.
func New(cfg Config, logger log.Logger) (ports.FrameSource, error) {
	switch cfg.Kind {
	case KindSocketCAN, "":
		iface := cfg.Interface
		if iface == "" {
			iface = "can0"
		}
		return NewSocketCAN(iface, logger), nil
	case KindSLCAN:
		if cfg.Device == "" {
			return nil, fmt.Errorf("%w: slcan source requires a device", domain.ErrInvalidConfig)
		}
		return NewSLCAN(cfg.Device, cfg.Baud, cfg.Bitrate, nil, logger), nil
	case KindCandump:
		if cfg.File == "" {
			return nil, fmt.Errorf("%w: candump source requires a file", domain.ErrInvalidConfig)
		}
		return NewCandump(cfg.File, cfg.Realtime, logger), nil
	case KindPCAP:
		if cfg.File == "" {
			return nil, fmt.Errorf("%w: pcap source requires a file", domain.ErrInvalidConfig)
		}
		return NewPCAP(cfg.File, cfg.Realtime, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", domain.ErrInvalidConfig, cfg.Kind)
	}
}
