package decode

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/canlog/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mustLayout(t *testing.T, msgs ...domain.MessageLayout) *domain.SignalLayout {
	t.Helper()
	l, err := domain.NewSignalLayout(msgs...)
	require.NoError(t, err)
	return l
}

func frame(t *testing.T, id uint32, payload ...byte) domain.RawFrame {
	t.Helper()
	f, err := domain.NewRawFrame(id, payload, t0)
	require.NoError(t, err)
	return f
}

func steeringLayout(t *testing.T) *domain.SignalLayout {
	return mustLayout(t, domain.MessageLayout{
		ID:   0x25,
		Name: "steering",
		Signals: []domain.SignalDef{
			{Name: "SteeringAngle", Start: 0, Length: 16, Signed: true, Scale: 0.1, Unit: "deg"},
			{Name: "SteeringRate", Start: 32, Length: 16, Signed: true, Scale: 0.5, Unit: "deg/s"},
		},
	})
}

func TestDecode_SteeringAngleExample(t *testing.T) {
	layout := steeringLayout(t)

	got := Decode(frame(t, 0x25, 0x64, 0x00, 0, 0, 0, 0, 0, 0), layout)

	require.Len(t, got, 2)
	assert.Equal(t, "SteeringAngle", got[0].Signal)
	assert.InDelta(t, 10.0, got[0].Value, 1e-9)
	assert.Equal(t, "deg", got[0].Unit)
	assert.Equal(t, uint32(0x25), got[0].FrameID)
	assert.Equal(t, t0, got[0].Timestamp)
}

func TestDecode_NegativeSigned(t *testing.T) {
	layout := steeringLayout(t)

	// -100 raw = 0xFF9C little-endian.
	got := Decode(frame(t, 0x25, 0x9C, 0xFF), layout)

	require.Len(t, got, 1)
	assert.InDelta(t, -10.0, got[0].Value, 1e-9)
}

func TestDecode_UnknownID(t *testing.T) {
	layout := steeringLayout(t)

	for _, id := range []uint32{0, 0x24, 0x26, 0x7ff, 0x18FEF100} {
		res := DecodeFrame(frame(t, id, 1, 2, 3, 4, 5, 6, 7, 8), layout)
		assert.Empty(t, res.Samples, "id 0x%X", id)
		assert.False(t, res.Known, "id 0x%X", id)
	}
}

func TestDecode_ShortFrameSkipsOnlyUncoveredSignals(t *testing.T) {
	layout := steeringLayout(t)

	// Four bytes cover SteeringAngle (bytes 0-1) but not SteeringRate (bytes 4-5).
	res := DecodeFrame(frame(t, 0x25, 0x64, 0x00, 0x00, 0x00), layout)

	require.True(t, res.Known)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, "SteeringAngle", res.Samples[0].Signal)
}

func TestDecode_EmptyPayload(t *testing.T) {
	layout := steeringLayout(t)

	res := DecodeFrame(frame(t, 0x25), layout)

	assert.Empty(t, res.Samples)
	assert.Equal(t, 2, res.Skipped)
}

func TestDecode_PartialByteCoverage(t *testing.T) {
	layout := mustLayout(t, domain.MessageLayout{
		ID: 0x100,
		Signals: []domain.SignalDef{
			// Bits 4..11 straddle bytes 0 and 1.
			{Name: "Straddle", Start: 4, Length: 8, Scale: 1},
		},
	})

	assert.Empty(t, Decode(frame(t, 0x100, 0xF0), layout))

	got := Decode(frame(t, 0x100, 0xF0, 0x0A), layout)
	require.Len(t, got, 1)
	assert.Equal(t, 0xAF, int(got[0].Value))
}

func TestDecode_BigEndian(t *testing.T) {
	layout := mustLayout(t, domain.MessageLayout{
		ID: 0x200,
		Signals: []domain.SignalDef{
			{Name: "Speed", Start: 7, Length: 16, Order: domain.BigEndian, Scale: 0.01, Unit: "km/h"},
		},
	})

	got := Decode(frame(t, 0x200, 0x01, 0x02), layout)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.58, got[0].Value, 1e-9)

	assert.Empty(t, Decode(frame(t, 0x200, 0x01), layout))
}

func TestDecode_ScaleAndOffset(t *testing.T) {
	layout := mustLayout(t, domain.MessageLayout{
		ID: 0x300,
		Signals: []domain.SignalDef{
			{Name: "CoolantTemp", Start: 0, Length: 8, Scale: 1, Offset: -40, Unit: "C"},
		},
	})

	got := Decode(frame(t, 0x300, 130), layout)
	require.Len(t, got, 1)
	assert.Equal(t, 90.0, got[0].Value)
}

func TestDecode_RemoteFrame(t *testing.T) {
	layout := steeringLayout(t)
	f := frame(t, 0x25)
	f.IsRemote = true
	f.Length = 8

	res := DecodeFrame(f, layout)
	assert.True(t, res.Known)
	assert.Empty(t, res.Samples)
}

func TestDecode_Deterministic(t *testing.T) {
	layout := steeringLayout(t)
	f := frame(t, 0x25, 1, 2, 3, 4, 5, 6, 7, 8)

	first := Decode(f, layout)
	second := Decode(f, layout)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("decode not deterministic (-first +second):\n%s", diff)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	defs := []domain.SignalDef{
		{Name: "u8", Start: 0, Length: 8, Scale: 1},
		{Name: "s16", Start: 8, Length: 16, Signed: true, Scale: 0.1},
		{Name: "u12", Start: 3, Length: 12, Scale: 0.25, Offset: -100},
		{Name: "s7", Start: 57, Length: 7, Signed: true, Scale: 2, Offset: 5},
		{Name: "be16", Start: 7, Length: 16, Order: domain.BigEndian, Scale: 0.01},
		{Name: "be_s10", Start: 21, Length: 10, Order: domain.BigEndian, Signed: true, Scale: 0.5},
		{Name: "u32", Start: 32, Length: 32, Scale: 0.001},
	}
	rng := rand.New(rand.NewSource(42))

	for _, def := range defs {
		t.Run(def.Name, func(t *testing.T) {
			require.NoError(t, def.Validate())
			for i := 0; i < 200; i++ {
				raw := randomRaw(rng, def)
				want := raw*def.Scale + def.Offset

				var f domain.RawFrame
				f.ID = 0x10
				Encode(&f, def, want)
				require.Equal(t, def.RequiredBytes(), int(f.Length))

				got, ok := Extract(f, def)
				require.True(t, ok)
				assert.InDelta(t, want, got, math.Abs(def.Scale)/2, "raw %v", raw)
			}
		})
	}
}

func TestEncode_Clamps(t *testing.T) {
	def := domain.SignalDef{Name: "u8", Start: 0, Length: 8, Scale: 1}
	var f domain.RawFrame

	Encode(&f, def, 1000)
	v, _ := Extract(f, def)
	assert.Equal(t, 255.0, v)

	Encode(&f, def, -5)
	v, _ = Extract(f, def)
	assert.Equal(t, 0.0, v)

	sdef := domain.SignalDef{Name: "s8", Start: 8, Length: 8, Signed: true, Scale: 1}
	Encode(&f, sdef, -1000)
	v, _ = Extract(f, sdef)
	assert.Equal(t, -128.0, v)
}

func randomRaw(rng *rand.Rand, def domain.SignalDef) float64 {
	bits := int(def.Length)
	if def.Signed {
		span := int64(1) << (bits - 1)
		return float64(rng.Int63n(2*span) - span)
	}
	return float64(rng.Int63n(int64(1) << bits))
}
