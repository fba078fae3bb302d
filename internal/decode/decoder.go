// Package decode maps raw CAN frames to physical signal values.
//
// Decoding is pure: it depends only on the frame and the layout and never
// fails. Signals the frame is too short to carry are skipped individually.
package decode

import (
	"math"

	"github.com/bft-labs/canlog/internal/domain"
)

// Result reports what happened to a single frame.
type Result struct {
	Samples []domain.DecodedSample
	Known   bool
	Skipped int
}

// Decode returns the samples carried by frame. Unknown ids yield nil.
func Decode(frame domain.RawFrame, layout *domain.SignalLayout) []domain.DecodedSample {
	return DecodeFrame(frame, layout).Samples
}

// DecodeFrame decodes frame and reports whether the id was known and how
// many signals were skipped because the payload was too short.
func DecodeFrame(frame domain.RawFrame, layout *domain.SignalLayout) Result {
	sigs, ok := layout.Lookup(frame.ID)
	if !ok {
		return Result{}
	}
	res := Result{Known: true}
	if frame.IsRemote {
		return res
	}
	for _, s := range sigs {
		v, ok := Extract(frame, s)
		if !ok {
			res.Skipped++
			continue
		}
		res.Samples = append(res.Samples, domain.DecodedSample{
			Timestamp: frame.Timestamp,
			FrameID:   frame.ID,
			Signal:    s.Name,
			Value:     v,
			Unit:      s.Unit,
		})
	}
	return res
}

// Extract reads one signal. ok is false when the frame does not cover the
// signal's bit range.
func Extract(frame domain.RawFrame, s domain.SignalDef) (value float64, ok bool) {
	if s.Length == 0 || s.RequiredBytes() > int(frame.Length) {
		return 0, false
	}
	data := frame.Data
	var raw float64
	switch {
	case s.Order == domain.LittleEndian && s.Signed:
		raw = float64(data.SignedBitsLittleEndian(s.Start, s.Length))
	case s.Order == domain.LittleEndian:
		raw = float64(data.UnsignedBitsLittleEndian(s.Start, s.Length))
	case s.Signed:
		raw = float64(data.SignedBitsBigEndian(s.Start, s.Length))
	default:
		raw = float64(data.UnsignedBitsBigEndian(s.Start, s.Length))
	}
	return raw*s.Scale + s.Offset, true
}

// Encode writes value into frame as signal s, extending frame.Length to
// cover the signal. Values outside the representable range are clamped.
func Encode(frame *domain.RawFrame, s domain.SignalDef, value float64) {
	raw := math.Round((value - s.Offset) / s.Scale)
	if need := s.RequiredBytes(); int(frame.Length) < need {
		frame.Length = uint8(need)
	}
	if s.Signed {
		v := clampSigned(raw, s.Length)
		if s.Order == domain.LittleEndian {
			frame.Data.SetSignedBitsLittleEndian(s.Start, s.Length, v)
		} else {
			frame.Data.SetSignedBitsBigEndian(s.Start, s.Length, v)
		}
		return
	}
	v := clampUnsigned(raw, s.Length)
	if s.Order == domain.LittleEndian {
		frame.Data.SetUnsignedBitsLittleEndian(s.Start, s.Length, v)
	} else {
		frame.Data.SetUnsignedBitsBigEndian(s.Start, s.Length, v)
	}
}

func clampSigned(raw float64, length uint8) int64 {
	if length == 64 {
		switch {
		case raw >= math.MaxInt64:
			return math.MaxInt64
		case raw <= math.MinInt64:
			return math.MinInt64
		}
		return int64(raw)
	}
	max := math.Ldexp(1, int(length)-1) - 1
	min := -math.Ldexp(1, int(length)-1)
	switch {
	case raw > max:
		return int64(max)
	case raw < min:
		return int64(min)
	}
	return int64(raw)
}

func clampUnsigned(raw float64, length uint8) uint64 {
	if raw < 0 {
		return 0
	}
	if length == 64 {
		if raw >= math.MaxUint64 {
			return math.MaxUint64
		}
		return uint64(raw)
	}
	max := math.Ldexp(1, int(length)) - 1
	if raw > max {
		return uint64(max)
	}
	return uint64(raw)
}
