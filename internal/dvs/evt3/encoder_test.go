package evt3

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/testutil"
)

func TestEncode_SingleEvent(t *testing.T) {
	words, err := EncodeAll([]dvs.DVSEvent{{Timestamp: 0x12345, X: 3, Y: 4, Polarity: dvs.PolarityOn}})
	require.NoError(t, err)
	want := []uint16{
		Word(TimeHigh, 0x012),
		Word(TimeLow, 0x345),
		Word(AddrY, 4),
		Word(AddrX, 0x800|3),
	}
	if diff := cmp.Diff(want, words); diff != "" {
		t.Errorf("EncodeAll() mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_Vectorises(t *testing.T) {
	events := []dvs.DVSEvent{
		{Timestamp: 7, X: 10, Y: 2, Polarity: dvs.PolarityOn},
		{Timestamp: 7, X: 11, Y: 2, Polarity: dvs.PolarityOn},
		{Timestamp: 7, X: 12, Y: 2, Polarity: dvs.PolarityOn},
		{Timestamp: 7, X: 13, Y: 2, Polarity: dvs.PolarityOff},
		{Timestamp: 7, X: 30, Y: 2, Polarity: dvs.PolarityOff},
		{Timestamp: 7, X: 39, Y: 2, Polarity: dvs.PolarityOff},
	}
	words, err := EncodeAll(events)
	require.NoError(t, err)
	want := []uint16{
		Word(TimeHigh, 0),
		Word(TimeLow, 7),
		Word(AddrY, 2),
		Word(VectBaseX, 0x800|10),
		Word(Vect8, 0b111),
		Word(AddrX, 13),
		Word(VectBaseX, 30),
		Word(Vect12, 1|1<<9),
	}
	if diff := cmp.Diff(want, words); diff != "" {
		t.Errorf("EncodeAll() mismatch (-want +got):\n%s", diff)
	}

	got, err := DecodeAll(words)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestEncode_ReusesVectorBase(t *testing.T) {
	enc := NewEncoder()
	run := []dvs.DVSEvent{{X: 10, Y: 1}, {X: 11, Y: 1}}
	words, err := enc.Encode(nil, run)
	require.NoError(t, err)
	more, err := enc.Encode(nil, run)
	require.NoError(t, err)

	assert.Contains(t, words, Word(VectBaseX, 10))
	assert.Equal(t, []uint16{Word(Vect8, 0b11)}, more, "unchanged base must not be re-sent")
}

func TestEncode_Wraparound(t *testing.T) {
	events := []dvs.DVSEvent{
		{Timestamp: MaxTimeField<<12 | 5, X: 1, Y: 1},
		{Timestamp: 1<<24 | 2, X: 1, Y: 1},
		{Timestamp: 1<<24 | 0x800<<12, X: 1, Y: 1},
		{Timestamp: 4<<24 | 0x100<<12, X: 1, Y: 1},
		{Timestamp: 5<<24 | 0x050<<12, X: 1, Y: 1},
	}
	words, err := EncodeAll(events)
	require.NoError(t, err)
	got, err := DecodeAll(words)
	require.NoError(t, err)
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_FirstEventInLaterEpoch(t *testing.T) {
	events := []dvs.DVSEvent{{Timestamp: 3<<24 | 17, X: 2, Y: 2}}
	words, err := EncodeAll(events)
	require.NoError(t, err)
	got, err := DecodeAll(words)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		events []dvs.DVSEvent
		want   error
	}{
		{"x range", []dvs.DVSEvent{{X: MaxCoord + 1}}, dvs.ErrEncodeRange},
		{"y range", []dvs.DVSEvent{{Y: MaxCoord + 1}}, dvs.ErrEncodeRange},
		{"epoch gap", []dvs.DVSEvent{{}, {Timestamp: (MaxEpochGap + 1) << 24}}, dvs.ErrEncodeRange},
		{"time high regression", []dvs.DVSEvent{{Timestamp: 5 << 12}, {Timestamp: 4 << 12}}, dvs.ErrOutOfOrder},
		{"epoch regression", []dvs.DVSEvent{{Timestamp: 1 << 24}, {Timestamp: 5}}, dvs.ErrOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeAll(tt.events)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncoder_Check(t *testing.T) {
	enc := NewEncoder()
	words, err := enc.Encode(nil, []dvs.DVSEvent{{Timestamp: 5 << 12, X: 1}})
	require.NoError(t, err)

	assert.NoError(t, enc.Check(dvs.DVSEvent{Timestamp: 5<<12 + 1, X: MaxCoord}))
	assert.ErrorIs(t, enc.Check(dvs.DVSEvent{Timestamp: 5 << 12, X: MaxCoord + 1}), dvs.ErrEncodeRange)
	assert.ErrorIs(t, enc.Check(dvs.DVSEvent{Timestamp: 4 << 12}), dvs.ErrOutOfOrder)
	assert.ErrorIs(t, enc.Check(dvs.DVSEvent{Timestamp: (MaxEpochGap + 1) << 24}), dvs.ErrEncodeRange)

	// Check leaves the state alone: the next event still needs no TIME_HIGH.
	more, err := enc.Encode(nil, []dvs.DVSEvent{{Timestamp: 5 << 12, X: 2}})
	require.NoError(t, err)
	assert.Equal(t, []uint16{Word(AddrX, 2)}, more)
	assert.NotEmpty(t, words)
}

func TestEncode_TimeLowRegressionRoundTrips(t *testing.T) {
	events := []dvs.DVSEvent{{Timestamp: 100, X: 1}, {Timestamp: 90, X: 2}}
	words, err := EncodeAll(events)
	require.NoError(t, err)
	got, err := DecodeAll(words)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestEncode_VectorRespectsCoordLimit(t *testing.T) {
	events := []dvs.DVSEvent{{X: MaxCoord - 1}, {X: MaxCoord}}
	words, err := EncodeAll(events)
	require.NoError(t, err)
	got, err := DecodeAll(words)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestRoundTrip_SensorEvents(t *testing.T) {
	events := testutil.SensorEvents(3, 20000, 1<<20, MaxCoord)
	words, err := EncodeAll(events)
	require.NoError(t, err)
	assert.Less(t, len(words), 2*len(events), "sensor-shaped input should vectorise")

	got, err := DecodeAll(words)
	require.NoError(t, err)
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(events)) == events for ordered input", prop.ForAll(
		func(seed int64, n int, step uint64) bool {
			events := testutil.SensorEvents(seed, n, step, MaxCoord)
			words, err := EncodeAll(events)
			if err != nil {
				return false
			}
			got, err := DecodeAll(words)
			return err == nil && cmp.Equal(events, got)
		},
		gen.Int64(),
		gen.IntRange(0, 400),
		gen.UInt64Range(0, 1<<26),
	))

	properties.Property("decoded timestamps never decrease", prop.ForAll(
		func(seed int64, step uint64) bool {
			words, err := EncodeAll(testutil.SensorEvents(seed, 300, step, 63))
			if err != nil {
				return false
			}
			got, err := DecodeAll(words)
			if err != nil {
				return false
			}
			for i := 1; i < len(got); i++ {
				if got[i].Timestamp < got[i-1].Timestamp {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.UInt64Range(0, 1<<25),
	))

	properties.TestingRun(t)
}
