package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// LinkTypeCANSocketCAN is LINKTYPE_CAN_SOCKETCAN.
const LinkTypeCANSocketCAN = layers.LinkType(227)

const pcapngMagic = 0x0A0D0D0A

// SocketCAN can_id flags.
const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000
	canEFFMask = 0x1FFFFFFF
	canSFFMask = 0x000007FF
)

var errSkipPacket = errors.New("not a classic CAN data frame")

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAP replays a pcap or pcapng capture of a SocketCAN interface, as
// written by tcpdump -i can0 or Wireshark.
type PCAP struct {
	path     string
	realtime bool
	logger   log.Logger

	r      io.Reader
	file   *os.File
	pr     packetReader
	pacer  pacer
	closed atomic.Bool

	// Skipped counts error frames, CAN FD frames and short packets.
	Skipped atomic.Uint64
}

// NewPCAP creates a replay source for the capture at path.
func NewPCAP(path string, realtime bool, logger log.Logger) *PCAP {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &PCAP{path: path, realtime: realtime, logger: logger}
}

// NewPCAPReader creates a replay source reading a capture from r.
func NewPCAPReader(name string, r io.Reader, realtime bool, logger log.Logger) *PCAP {
	p := NewPCAP(name, realtime, logger)
	p.r = r
	return p
}

// Name implements ports.FrameSource.
func (p *PCAP) Name() string { return "pcap:" + p.path }

// Open reads the capture header and checks the link type.
func (p *PCAP) Open(ctx context.Context) error {
	r := p.r
	if r == nil {
		f, err := os.Open(p.path)
		if err != nil {
			return err
		}
		p.file = f
		r = f
	}

	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		p.closeFile()
		return fmt.Errorf("read capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		p.pr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		p.pr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		p.closeFile()
		return fmt.Errorf("open capture: %w", err)
	}
	if lt := p.pr.LinkType(); lt != LinkTypeCANSocketCAN {
		p.closeFile()
		return fmt.Errorf("capture link type %d is not SocketCAN (%d)", lt, LinkTypeCANSocketCAN)
	}
	p.pacer = pacer{enabled: p.realtime}
	return nil
}

// Receive returns the next CAN frame in the capture.
func (p *PCAP) Receive(ctx context.Context) (domain.RawFrame, error) {
	if p.pr == nil {
		return domain.RawFrame{}, errors.New("pcap source is not open")
	}
	for {
		if err := ctx.Err(); err != nil {
			return domain.RawFrame{}, err
		}
		if p.closed.Load() {
			return domain.RawFrame{}, domain.NewBusError(p.Name(), errClosed)
		}
		data, ci, err := p.pr.ReadPacketData()
		if err != nil {
			return domain.RawFrame{}, domain.NewBusError(p.Name(), err)
		}
		frame, err := ParseSocketCANPacket(data, ci.Timestamp)
		if err != nil {
			p.Skipped.Add(1)
			p.logger.Debug("skipping packet", log.Err(err))
			continue
		}
		if err := p.pacer.wait(ctx, frame.Timestamp); err != nil {
			return domain.RawFrame{}, err
		}
		return frame, nil
	}
}

// Close implements ports.FrameSource.
func (p *PCAP) Close() error {
	p.closed.Store(true)
	return p.closeFile()
}

func (p *PCAP) closeFile() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// ParseSocketCANPacket decodes a LINKTYPE_CAN_SOCKETCAN packet: a
// big-endian can_id, the payload length, three reserved bytes and up to
// eight data bytes.
func ParseSocketCANPacket(data []byte, ts time.Time) (domain.RawFrame, error) {
	if len(data) < 8 {
		return domain.RawFrame{}, fmt.Errorf("packet of %d bytes: %w", len(data), errSkipPacket)
	}
	canID := binary.BigEndian.Uint32(data[0:4])
	if canID&canERRFlag != 0 {
		return domain.RawFrame{}, fmt.Errorf("error frame: %w", errSkipPacket)
	}
	length := int(data[4])
	if length > domain.MaxPayload {
		return domain.RawFrame{}, fmt.Errorf("payload length %d: %w", length, errSkipPacket)
	}

	var f domain.RawFrame
	f.Timestamp = ts.UTC()
	f.IsExtended = canID&canEFFFlag != 0
	f.IsRemote = canID&canRTRFlag != 0
	if f.IsExtended {
		f.ID = canID & canEFFMask
	} else {
		f.ID = canID & canSFFMask
	}
	f.Length = uint8(length)
	if !f.IsRemote {
		if len(data) < 8+length {
			return domain.RawFrame{}, fmt.Errorf("truncated payload: %w", errSkipPacket)
		}
		copy(f.Data[:], data[8:8+length])
	}
	return f, nil
}
