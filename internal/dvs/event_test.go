package dvs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"evt2": FormatEVT2, "EVT2.0": FormatEVT2, " 2 ": FormatEVT2,
		"evt3": FormatEVT3, "3.0": FormatEVT3,
		"DAT": FormatDAT,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("evt4")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, 4, FormatEVT2.WordSize())
	assert.Equal(t, 2, FormatEVT3.WordSize())
	assert.Equal(t, 8, FormatDAT.WordSize())
	assert.Equal(t, 0, FormatUnknown.WordSize())
	assert.Equal(t, "evt3", FormatEVT3.String())
}

func TestDVSEventString(t *testing.T) {
	ev := DVSEvent{Timestamp: 42, X: 1, Y: 2, Polarity: PolarityOn}
	assert.Equal(t, "42,1,2,1", ev.String())
	assert.Equal(t, "on", PolarityOn.String())
	assert.Equal(t, "off", PolarityOff.String())
}

func TestWordError(t *testing.T) {
	err := fmt.Errorf("decode: %w", &WordError{
		Format: FormatEVT3,
		Offset: 12,
		Word:   0x7abc,
		Type:   7,
		Err:    ErrUnsupportedEventType,
	})
	assert.ErrorIs(t, err, ErrUnsupportedEventType)
	assert.Contains(t, err.Error(), "evt3 word 0x7abc (type 0x7) at offset 12")

	var we *WordError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, int64(12), we.Offset)
}

func TestStats(t *testing.T) {
	s := Stats{Width: 10, Height: 10}
	for _, ev := range []DVSEvent{
		{Timestamp: 5, X: 1, Y: 1, Polarity: PolarityOn},
		{Timestamp: 9, X: 12, Y: 3},
		{Timestamp: 7, X: 2, Y: 9, Polarity: PolarityOn},
	} {
		s.Add(ev)
	}
	assert.Equal(t, uint64(3), s.Events)
	assert.Equal(t, uint64(2), s.OnEvents)
	assert.Equal(t, uint64(1), s.OffEvents)
	assert.Equal(t, uint64(1), s.OutOfBounds)
	assert.Equal(t, uint64(1), s.Regressions)
	assert.False(t, s.Monotonic())
	assert.Equal(t, uint16(12), s.MaxX)
	assert.Equal(t, Timestamp(2), s.Duration())

	var empty Stats
	assert.True(t, empty.Monotonic())
	assert.Zero(t, empty.Duration())
}
