package evt2

import (
	"fmt"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// Encoder turns events into EVT2 words, inserting TIME_HIGH words whenever
// the high part of the timestamp changes.
type Encoder struct {
	timeHigh uint32
	started  bool
}

// NewEncoder returns an encoder that will open with a TIME_HIGH word.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode appends the words for ev to dst. Nothing is appended on error.
func (e *Encoder) Encode(dst []uint32, ev dvs.DVSEvent) ([]uint32, error) {
	if ev.X > MaxCoord || ev.Y > MaxCoord {
		return dst, fmt.Errorf("%w: x=%d y=%d exceed %d bits", dvs.ErrEncodeRange, ev.X, ev.Y, CoordBits)
	}
	if ev.Timestamp > MaxTimestamp {
		return dst, fmt.Errorf("%w: timestamp %d exceeds %d bits", dvs.ErrEncodeRange, ev.Timestamp, TimeHighBits+TimeLowBits)
	}

	high := uint32(ev.Timestamp >> TimeLowBits)
	if !e.started || high != e.timeHigh {
		dst = append(dst, TypeTimeHigh<<typeShift|high)
		e.timeHigh = high
		e.started = true
	}

	cd, err := FormatWord(dvs.RawEvent{
		Kind:     dvs.RawCD,
		TimeLow:  uint8(ev.Timestamp & timeLowMask),
		X:        ev.X,
		Y:        ev.Y,
		Polarity: ev.Polarity,
	})
	if err != nil {
		return dst, err
	}
	return append(dst, cd), nil
}

// EncodeRaw appends a raw event verbatim. TIME_HIGH raw events also update
// the encoder's register so later Encode calls do not repeat them.
func (e *Encoder) EncodeRaw(dst []uint32, raw dvs.RawEvent) ([]uint32, error) {
	word, err := FormatWord(raw)
	if err != nil {
		return dst, err
	}
	if raw.Kind == dvs.RawTimeHigh {
		e.timeHigh = raw.TimeHigh
		e.started = true
	}
	return append(dst, word), nil
}

// EncodeAll encodes a whole event sequence.
func EncodeAll(events []dvs.DVSEvent) ([]uint32, error) {
	enc := NewEncoder()
	words := make([]uint32, 0, len(events)+len(events)/8+1)
	var err error
	for i, ev := range events {
		if words, err = enc.Encode(words, ev); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return words, nil
}

// DecodeAll decodes a whole word sequence, stopping at the first error.
func DecodeAll(words []uint32) ([]dvs.DVSEvent, error) {
	dec := NewDecoder()
	events := make([]dvs.DVSEvent, 0, len(words))
	for i, w := range words {
		ev, ok, err := dec.Decode(w)
		if err != nil {
			return events, &dvs.WordError{Format: dvs.FormatEVT2, Offset: int64(i * WordSize), Word: uint64(w), Type: Type(w), Err: err}
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}
