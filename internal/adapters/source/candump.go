package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.einride.tech/can"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/pkg/log"
)

// Candump replays a can-utils log file with lines such as
//
//	(1436509052.249713) can0 123#DEADBEEF
//
// Malformed lines and CAN FD frames are skipped and counted.
type Candump struct {
	path     string
	realtime bool
	logger   log.Logger

	r      io.Reader
	file   *os.File
	sc     *bufio.Scanner
	lineNo int
	pacer  pacer
	closed atomic.Bool

	// Malformed counts skipped lines.
	Malformed atomic.Uint64
}

// NewCandump creates a replay source for the file at path. With realtime
// set, frames are delivered at their recorded pace.
func NewCandump(path string, realtime bool, logger log.Logger) *Candump {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Candump{path: path, realtime: realtime, logger: logger}
}

// NewCandumpReader creates a replay source reading from r.
func NewCandumpReader(name string, r io.Reader, realtime bool, logger log.Logger) *Candump {
	c := NewCandump(name, realtime, logger)
	c.r = r
	return c
}

// Name implements ports.FrameSource.
func (c *Candump) Name() string { return "candump:" + c.path }

// Open implements ports.FrameSource.
func (c *Candump) Open(ctx context.Context) error {
	r := c.r
	if r == nil {
		f, err := os.Open(c.path)
		if err != nil {
			return err
		}
		c.file = f
		r = f
	}
	c.sc = bufio.NewScanner(r)
	c.pacer = pacer{enabled: c.realtime}
	return nil
}

// Receive returns the next frame in the file.
func (c *Candump) Receive(ctx context.Context) (domain.RawFrame, error) {
	if c.sc == nil {
		return domain.RawFrame{}, errors.New("candump source is not open")
	}
	for {
		if err := ctx.Err(); err != nil {
			return domain.RawFrame{}, err
		}
		if c.closed.Load() {
			return domain.RawFrame{}, domain.NewBusError(c.Name(), errClosed)
		}
		if !c.sc.Scan() {
			err := c.sc.Err()
			if err == nil {
				err = io.EOF
			}
			return domain.RawFrame{}, domain.NewBusError(c.Name(), err)
		}
		c.lineNo++
		line := strings.TrimSpace(c.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		frame, _, err := ParseCandumpLine(line)
		if err != nil {
			c.Malformed.Add(1)
			c.logger.Debug("skipping candump line", log.Int("line", c.lineNo), log.Err(err))
			continue
		}
		if err := c.pacer.wait(ctx, frame.Timestamp); err != nil {
			return domain.RawFrame{}, err
		}
		return frame, nil
	}
}

// Close implements ports.FrameSource.
func (c *Candump) Close() error {
	c.closed.Store(true)
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// ParseCandumpLine parses one candump log line and returns the frame and
// the interface name.
func ParseCandumpLine(line string) (domain.RawFrame, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return domain.RawFrame{}, "", fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	ts, err := parseCandumpTime(fields[0])
	if err != nil {
		return domain.RawFrame{}, "", err
	}
	if strings.Contains(fields[2], "##") {
		return domain.RawFrame{}, "", errors.New("CAN FD frames are not supported")
	}
	var f can.Frame
	if err := f.UnmarshalString(fields[2]); err != nil {
		return domain.RawFrame{}, "", fmt.Errorf("frame %q: %w", fields[2], err)
	}
	return domain.RawFrame{Frame: f, Timestamp: ts}, fields[1], nil
}

func parseCandumpTime(s string) (time.Time, error) {
	if len(s) < 3 || s[0] != '(' || s[len(s)-1] != ')' {
		return time.Time{}, fmt.Errorf("timestamp %q: want (sec.frac)", s)
	}
	s = s[1 : len(s)-1]
	secStr, fracStr, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp seconds: %w", err)
	}
	var nsec int64
	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp fraction: %w", err)
		}
		for i := len(fracStr); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// pacer delays replayed frames so they arrive at their recorded pace.
type pacer struct {
	enabled   bool
	first     time.Time
	wallStart time.Time
}

func (p *pacer) wait(ctx context.Context, ts time.Time) error {
	if !p.enabled {
		return nil
	}
	if p.first.IsZero() {
		p.first = ts
		p.wallStart = time.Now()
		return nil
	}
	delay := time.Until(p.wallStart.Add(ts.Sub(p.first)))
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
