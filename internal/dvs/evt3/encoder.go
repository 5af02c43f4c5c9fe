package evt3

import (
	"fmt"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// MaxEpochGap bounds how many 12-bit time-high wraparounds the encoder will
// synthesise between two consecutive events (about 19 hours of silence).
const MaxEpochGap = 4096

// Encoder turns canonical events into EVT3 words. It mirrors the state a
// Decoder would hold after reading its output so that it only emits the
// words needed to change that state.
//
// Input is expected grouped the way a sensor produces it: non-decreasing
// timestamps, rows emitted together, x ascending within a row. Other orders
// still round-trip but vectorise poorly.
type Encoder struct {
	state   State // decoder state implied by the words emitted so far
	started bool
}

// NewEncoder returns an encoder at stream start.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode appends the words for events to dst. events may be any slice of
// the stream; the encoder remembers state between calls. Events sharing a
// timestamp, row and polarity are only packed into vectors when they arrive
// in the same call.
func (e *Encoder) Encode(dst []uint16, events []dvs.DVSEvent) ([]uint16, error) {
	for i := 0; i < len(events); {
		ev := events[i]
		if err := checkCoord(ev); err != nil {
			return dst, fmt.Errorf("event %d: %w", i, err)
		}

		var err error
		if dst, err = e.setTime(dst, ev.Timestamp); err != nil {
			return dst, fmt.Errorf("event %d: %w", i, err)
		}
		if !e.state.HasY || e.state.Y != ev.Y {
			dst = append(dst, Word(AddrY, joinCoord(ev.Y, 0)))
			e.state.Y, e.state.HasY = ev.Y, true
		}

		n, mask := run(events[i:])
		if n == 1 {
			dst = append(dst, Word(AddrX, joinCoord(ev.X, uint8(ev.Polarity))))
			i++
			continue
		}

		if !e.state.HasBase || e.state.BaseX != ev.X || e.state.BasePolarity != ev.Polarity {
			dst = append(dst, Word(VectBaseX, joinCoord(ev.X, uint8(ev.Polarity))))
			e.state.BaseX, e.state.BasePolarity, e.state.HasBase = ev.X, ev.Polarity, true
		}
		if mask < 1<<Vect8Width {
			dst = append(dst, Word(Vect8, mask))
		} else {
			dst = append(dst, Word(Vect12, mask))
		}
		i += n
	}
	return dst, nil
}

// run returns how many leading events of evs fit in one vector word and the
// corresponding presence mask relative to evs[0].X. A run continues while
// timestamp, row and polarity match and x strictly increases inside the
// 12-wide window, so decoding reproduces the input order exactly.
func run(evs []dvs.DVSEvent) (int, uint16) {
	first := evs[0]
	mask := uint16(1)
	n := 1
	prevX := first.X
	for _, ev := range evs[1:] {
		if ev.Timestamp != first.Timestamp || ev.Y != first.Y || ev.Polarity != first.Polarity {
			break
		}
		if ev.X <= prevX || ev.X > MaxCoord || int(ev.X)-int(first.X) >= Vect12Width {
			break
		}
		mask |= 1 << (ev.X - first.X)
		prevX = ev.X
		n++
	}
	return n, mask
}

// setTime emits the TIME_HIGH / TIME_LOW words that move the implied
// decoder time to ts. Epoch changes are produced by emitting time-high values
// that the decoder reads as wraparounds.
func (e *Encoder) setTime(dst []uint16, ts dvs.Timestamp) ([]uint16, error) {
	if err := e.checkTime(ts); err != nil {
		return dst, err
	}
	epoch := ts >> epochShift
	high := uint16(ts >> timeHighShift & MaxTimeField)
	low := uint16(ts & MaxTimeField)
	st := &e.state

	for st.Epoch < epoch {
		if st.Epoch+1 == epoch && high < st.TimeHigh {
			break
		}
		if st.TimeHigh == 0 {
			dst = append(dst, Word(TimeHigh, MaxTimeField))
			st.TimeHigh = MaxTimeField
		}
		dst = append(dst, Word(TimeHigh, 0))
		st.TimeHigh = 0
		st.Epoch++
	}

	if !e.started || st.Epoch != epoch || st.TimeHigh != high {
		dst = append(dst, Word(TimeHigh, high))
		if high < st.TimeHigh {
			st.Epoch++
		}
		st.TimeHigh = high
	}
	if !e.started || st.TimeLow != low {
		dst = append(dst, Word(TimeLow, low))
		st.TimeLow = low
	}
	e.started = true
	return dst, nil
}

// Check reports the error Encode would return for ev if it were the next
// event. The encoder state is not changed.
func (e *Encoder) Check(ev dvs.DVSEvent) error {
	if err := checkCoord(ev); err != nil {
		return err
	}
	return e.checkTime(ev.Timestamp)
}

func checkCoord(ev dvs.DVSEvent) error {
	if ev.X > MaxCoord || ev.Y > MaxCoord {
		return fmt.Errorf("%w: x=%d y=%d exceed %d bits", dvs.ErrEncodeRange, ev.X, ev.Y, CoordBits)
	}
	return nil
}

func (e *Encoder) checkTime(ts dvs.Timestamp) error {
	epoch := ts >> epochShift
	high := uint16(ts >> timeHighShift & MaxTimeField)
	st := &e.state
	switch {
	case epoch < st.Epoch || (epoch == st.Epoch && high < st.TimeHigh):
		return fmt.Errorf("%w: timestamp %d precedes %d", dvs.ErrOutOfOrder, ts, st.Timestamp())
	case epoch-st.Epoch > MaxEpochGap:
		return fmt.Errorf("%w: gap of %d time-high wraparounds before timestamp %d (max %d)",
			dvs.ErrEncodeRange, epoch-st.Epoch, ts, MaxEpochGap)
	}
	return nil
}

// EncodeAll encodes a whole event sequence.
func EncodeAll(events []dvs.DVSEvent) ([]uint16, error) {
	return NewEncoder().Encode(make([]uint16, 0, len(events)+8), events)
}
