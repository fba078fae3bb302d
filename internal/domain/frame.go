package domain

import (
	"fmt"
	"time"

	"go.einride.tech/can"
)

// MaxPayload is the largest classic CAN payload in bytes.
const MaxPayload = can.MaxDataLength

// RawFrame is a CAN frame as captured from the bus.
// It is a value type; copies never share payload storage.
type RawFrame struct {
	can.Frame

	// Timestamp is the capture time. Sources fill it from the host clock
	// unless the capture carries its own.
	Timestamp time.Time
}

// NewRawFrame builds a frame from an id and payload bytes.
// Payloads longer than MaxPayload are rejected.
func NewRawFrame(id uint32, payload []byte, ts time.Time) (RawFrame, error) {
	if len(payload) > MaxPayload {
		return RawFrame{}, fmt.Errorf("payload length %d exceeds %d", len(payload), MaxPayload)
	}
	f := RawFrame{Timestamp: ts}
	f.ID = id
	f.IsExtended = id > 0x7ff
	f.Length = uint8(len(payload))
	copy(f.Data[:], payload)
	return f, nil
}

// Payload returns the valid bytes of the frame.
func (f RawFrame) Payload() []byte {
	n := int(f.Length)
	if n > MaxPayload {
		n = MaxPayload
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}
