package domain

import (
	"fmt"
	"math"
	"sort"
)

// ByteOrder selects how a signal's bits are numbered within the payload.
type ByteOrder int

const (
	// LittleEndian (Intel): Start is the least significant bit, counted from
	// bit 0 of byte 0 upwards.
	LittleEndian ByteOrder = iota

	// BigEndian (Motorola): Start is the most significant bit in DBC sawtooth
	// numbering (bit 7 of byte 0 is 7, bit 0 of byte 1 is 8).
	BigEndian
)

// String returns "little" or "big".
func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big"
	}
	return "little"
}

// ParseByteOrder accepts little/intel/le and big/motorola/be. Empty means little.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch s {
	case "", "little", "intel", "le", "little_endian":
		return LittleEndian, nil
	case "big", "motorola", "be", "big_endian":
		return BigEndian, nil
	default:
		return LittleEndian, fmt.Errorf("unknown byte order %q", s)
	}
}

// SignalDef describes one physical quantity packed in a frame payload.
type SignalDef struct {
	Name   string
	Start  uint8
	Length uint8
	Order  ByteOrder
	Signed bool
	Scale  float64
	Offset float64
	Unit   string
}

// RequiredBytes returns how many payload bytes must be present to extract
// the signal without truncation.
func (s SignalDef) RequiredBytes() int {
	if s.Length == 0 {
		return 0
	}
	if s.Order == LittleEndian {
		end := int(s.Start) + int(s.Length)
		return (end + 7) / 8
	}
	// Motorola: the MSB sits in byte Start/8 at bit Start%8 and the field
	// runs towards bit 0 of that byte, then into following bytes.
	first := int(s.Start) / 8
	inFirst := int(s.Start)%8 + 1
	if int(s.Length) <= inFirst {
		return first + 1
	}
	rest := int(s.Length) - inFirst
	return first + 1 + (rest+7)/8
}

// Validate checks that the definition can be decoded from a classic frame.
func (s SignalDef) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: signal without name", ErrInvalidLayout)
	}
	if s.Length == 0 || s.Length > 64 {
		return fmt.Errorf("%w: signal %s: length %d out of range 1..64", ErrInvalidLayout, s.Name, s.Length)
	}
	if s.Order == LittleEndian && int(s.Start)+int(s.Length) > MaxPayload*8 {
		return fmt.Errorf("%w: signal %s: bits %d..%d exceed payload", ErrInvalidLayout, s.Name, s.Start, int(s.Start)+int(s.Length))
	}
	if s.Order == BigEndian && s.RequiredBytes() > MaxPayload {
		return fmt.Errorf("%w: signal %s: motorola start %d length %d exceed payload", ErrInvalidLayout, s.Name, s.Start, s.Length)
	}
	if s.Scale == 0 {
		return fmt.Errorf("%w: signal %s: scale must be non-zero", ErrInvalidLayout, s.Name)
	}
	if !finite(s.Scale) || !finite(s.Offset) {
		return fmt.Errorf("%w: signal %s: scale and offset must be finite", ErrInvalidLayout, s.Name)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MessageLayout holds the signals carried by one arbitration id, in decode order.
type MessageLayout struct {
	ID      uint32
	Name    string
	Signals []SignalDef
}

// SignalLayout maps arbitration ids to their message layouts.
// It is built once and never mutated afterwards; all decoders share it.
type SignalLayout struct {
	messages map[uint32]MessageLayout
}

// NewSignalLayout validates the messages and builds a layout.
func NewSignalLayout(messages ...MessageLayout) (*SignalLayout, error) {
	l := &SignalLayout{messages: make(map[uint32]MessageLayout, len(messages))}
	for _, m := range messages {
		if _, dup := l.messages[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate message id 0x%X", ErrInvalidLayout, m.ID)
		}
		if m.ID > 0x1FFFFFFF {
			return nil, fmt.Errorf("%w: message id 0x%X exceeds 29 bits", ErrInvalidLayout, m.ID)
		}
		seen := make(map[string]bool, len(m.Signals))
		for _, s := range m.Signals {
			if err := s.Validate(); err != nil {
				return nil, fmt.Errorf("message 0x%X: %w", m.ID, err)
			}
			if seen[s.Name] {
				return nil, fmt.Errorf("%w: message 0x%X: duplicate signal %s", ErrInvalidLayout, m.ID, s.Name)
			}
			seen[s.Name] = true
		}
		sigs := make([]SignalDef, len(m.Signals))
		copy(sigs, m.Signals)
		m.Signals = sigs
		l.messages[m.ID] = m
	}
	return l, nil
}

// Lookup returns the signals for id. The slice must not be modified.
func (l *SignalLayout) Lookup(id uint32) ([]SignalDef, bool) {
	if l == nil {
		return nil, false
	}
	m, ok := l.messages[id]
	return m.Signals, ok
}

// Message returns the full message layout for id.
func (l *SignalLayout) Message(id uint32) (MessageLayout, bool) {
	if l == nil {
		return MessageLayout{}, false
	}
	m, ok := l.messages[id]
	return m, ok
}

// Messages returns the message layouts ordered by id.
func (l *SignalLayout) Messages() []MessageLayout {
	if l == nil {
		return nil
	}
	out := make([]MessageLayout, 0, len(l.messages))
	for _, m := range l.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SignalNames returns the distinct signal names in the layout, sorted.
func (l *SignalLayout) SignalNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range l.Messages() {
		for _, s := range m.Signals {
			if !seen[s.Name] {
				seen[s.Name] = true
				names = append(names, s.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of messages.
func (l *SignalLayout) Len() int {
	if l == nil {
		return 0
	}
	return len(l.messages)
}
