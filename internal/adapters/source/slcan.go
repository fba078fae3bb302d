package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.einride.tech/can"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// DefaultSerialBaud is the serial speed of most USB SLCAN adapters.
const DefaultSerialBaud = 115200

// Port is the minimal serial port needed by SLCAN.
// This abstraction enables unit testing without real serial hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a serial port.
type PortOpener func(device string, baud int) (Port, error)

// SerialOpener opens a real serial port with go.bug.st/serial.
func SerialOpener(device string, baud int) (Port, error) {
	return serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// slcanBitrates maps CAN bitrates to the S<n> setup command.
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCAN receives frames from a Lawicel protocol adapter (CANable, USBtin,
// CANUSB) on a serial port.
type SLCAN struct {
	device  string
	baud    int
	bitrate int
	opener  PortOpener
	logger  log.Logger
	now     func() time.Time

	port   Port
	frames chan domain.RawFrame
	errc   chan error
	closed chan struct{}
	once   sync.Once

	// ErrorReplies counts BEL replies from the adapter.
	ErrorReplies atomic.Uint64
	// Malformed counts lines that could not be parsed.
	Malformed atomic.Uint64
}

// NewSLCAN creates an SLCAN source. A nil opener uses SerialOpener.
func NewSLCAN(device string, baud, bitrate int, opener PortOpener, logger log.Logger) *SLCAN {
	if opener == nil {
		opener = SerialOpener
	}
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &SLCAN{
		device:  device,
		baud:    baud,
		bitrate: bitrate,
		opener:  opener,
		logger:  logger,
		now:     time.Now,
		frames:  make(chan domain.RawFrame, 256),
		errc:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Name implements ports.FrameSource.
func (s *SLCAN) Name() string { return "slcan:" + s.device }

// Open opens the port, configures the bitrate and opens the CAN channel.
func (s *SLCAN) Open(ctx context.Context) error {
	code, ok := slcanBitrates[s.bitrate]
	if !ok {
		return fmt.Errorf("unsupported SLCAN bitrate %d", s.bitrate)
	}
	port, err := s.opener(s.device, s.baud)
	if err != nil {
		return err
	}
	s.port = port

	// Close first in case the adapter was left open.
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			_ = port.Close()
			return fmt.Errorf("slcan setup %q: %w", cmd[:len(cmd)-1], err)
		}
	}

	go s.readLoop()
	s.logger.Info("slcan channel open",
		log.String("device", s.device),
		log.Int("bitrate", s.bitrate),
	)
	return nil
}

// Receive returns the next frame from the adapter.
func (s *SLCAN) Receive(ctx context.Context) (domain.RawFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errc:
		return domain.RawFrame{}, domain.NewBusError(s.Name(), err)
	case <-ctx.Done():
		return domain.RawFrame{}, ctx.Err()
	case <-s.closed:
		return domain.RawFrame{}, domain.NewBusError(s.Name(), errClosed)
	}
}

// Close closes the CAN channel and the port.
func (s *SLCAN) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.port != nil {
			_, _ = io.WriteString(s.port, "C\r")
			err = s.port.Close()
		}
	})
	return err
}

func (s *SLCAN) readLoop() {
	br := bufio.NewReader(s.port)
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			select {
			case s.errc <- err:
			default:
			}
			return
		}
		switch b {
		case '\r':
			s.handleLine(line)
			line = line[:0]
		case '\a':
			s.ErrorReplies.Add(1)
			s.logger.Warn("slcan adapter reported an error")
			line = line[:0]
		case '\n':
		default:
			line = append(line, b)
		}
	}
}

func (s *SLCAN) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	switch line[0] {
	case 't', 'T', 'r', 'R':
	default:
		// Command acknowledgments and version replies.
		return
	}
	f, err := ParseSLCANFrame(string(line))
	if err != nil {
		s.Malformed.Add(1)
		s.logger.Debug("skipping slcan line", log.String("line", string(line)), log.Err(err))
		return
	}
	select {
	case s.frames <- domain.RawFrame{Frame: f, Timestamp: s.now()}:
	case <-s.closed:
	}
}

// ParseSLCANFrame parses a t, T, r or R line without its terminator.
// A trailing 4-digit adapter timestamp is accepted and ignored.
func ParseSLCANFrame(line string) (can.Frame, error) {
	var f can.Frame
	if line == "" {
		return f, errors.New("empty line")
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		idLen = 8
		f.IsExtended = true
	case 'r':
		f.IsRemote = true
	case 'R':
		idLen = 8
		f.IsExtended = true
		f.IsRemote = true
	default:
		return f, fmt.Errorf("unknown frame type %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return f, fmt.Errorf("short line %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return f, fmt.Errorf("id: %w", err)
	}
	if (!f.IsExtended && id > canSFFMask) || id > canEFFMask {
		return f, fmt.Errorf("id 0x%X out of range", id)
	}
	f.ID = uint32(id)

	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > domain.MaxPayload {
		return f, fmt.Errorf("invalid length %q", line[1+idLen])
	}
	f.Length = uint8(dlc)

	rest := line[2+idLen:]
	dataLen := 2 * dlc
	if f.IsRemote {
		dataLen = 0
	}
	if len(rest) != dataLen && len(rest) != dataLen+4 {
		return f, fmt.Errorf("line %q: want %d data digits", line, dataLen)
	}
	for i := 0; i < dataLen/2; i++ {
		b, err := strconv.ParseUint(rest[2*i:2*i+2], 16, 8)
		if err != nil {
			return f, fmt.Errorf("data byte %d: %w", i, err)
		}
		f.Data[i] = byte(b)
	}
	return f, nil
}
