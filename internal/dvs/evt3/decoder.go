package evt3

import (
	"fmt"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// State is the hidden cross-word state of an EVT3 decoder. Fields are carried
// forward until a word of the matching subtype overwrites them; nothing is
// reset implicitly.
type State struct {
	Epoch    uint64 // number of 12-bit time-high wraparounds seen
	TimeHigh uint16
	TimeLow  uint16

	Y          uint16
	SystemType uint8
	HasY       bool

	BaseX        uint16
	BasePolarity dvs.Polarity
	HasBase      bool
}

// Timestamp is the absolute time implied by the current time fields.
func (s State) Timestamp() dvs.Timestamp {
	return s.Epoch<<epochShift | uint64(s.TimeHigh)<<timeHighShift | uint64(s.TimeLow)
}

// Decoder is the EVT3 state machine. Each call to Decode consumes exactly one
// word. A Decoder must not be shared between streams; give each pass its own.
type Decoder struct {
	state State
}

// NewDecoder returns a decoder at stream start.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// State returns a copy of the current decoder state.
func (d *Decoder) State() State {
	return d.state
}

// Reset returns the decoder to stream-start state.
func (d *Decoder) Reset() {
	d.state = State{}
}

// Decode consumes one word and appends the events it produces to dst, in
// emission order. Vector words emit in ascending x. On error dst is returned
// unchanged and the state is exactly as it was before the call.
func (d *Decoder) Decode(dst []dvs.DVSEvent, word uint16) ([]dvs.DVSEvent, error) {
	payload := Payload(word)
	st := &d.state

	switch SubtypeOf(word) {
	case AddrY:
		st.Y, st.SystemType = splitCoord(payload)
		st.HasY = true
		return dst, nil

	case AddrX:
		if !st.HasY {
			return dst, fmt.Errorf("%w: %s before %s", dvs.ErrUninitializedState, AddrX, AddrY)
		}
		x, pol := splitCoord(payload)
		return append(dst, dvs.DVSEvent{
			Timestamp: st.Timestamp(),
			X:         x,
			Y:         st.Y,
			Polarity:  dvs.Polarity(pol),
		}), nil

	case VectBaseX:
		x, pol := splitCoord(payload)
		st.BaseX = x
		st.BasePolarity = dvs.Polarity(pol)
		st.HasBase = true
		return dst, nil

	case Vect12:
		return d.expand(dst, Vect12, payload, Vect12Width)

	case Vect8:
		return d.expand(dst, Vect8, payload&(1<<Vect8Width-1), Vect8Width)

	case TimeLow:
		st.TimeLow = payload
		return dst, nil

	case TimeHigh:
		if payload < st.TimeHigh {
			st.Epoch++
		}
		st.TimeHigh = payload
		return dst, nil

	default:
		return dst, fmt.Errorf("%w: %s", dvs.ErrUnsupportedEventType, SubtypeOf(word))
	}
}

// expand emits one event per set bit of mask, lowest offset first. base_x is
// left where it is for the next vector word.
func (d *Decoder) expand(dst []dvs.DVSEvent, sub Subtype, mask uint16, width int) ([]dvs.DVSEvent, error) {
	st := &d.state
	if !st.HasY || !st.HasBase {
		missing := AddrY
		if st.HasY {
			missing = VectBaseX
		}
		return dst, fmt.Errorf("%w: %s before %s", dvs.ErrUninitializedState, sub, missing)
	}
	if mask == 0 {
		return dst, nil
	}

	ts := st.Timestamp()
	for i := 0; i < width; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		dst = append(dst, dvs.DVSEvent{
			Timestamp: ts,
			X:         st.BaseX + uint16(i),
			Y:         st.Y,
			Polarity:  st.BasePolarity,
		})
	}
	return dst, nil
}

// DecodeAll decodes a whole word sequence, stopping at the first error.
func DecodeAll(words []uint16) ([]dvs.DVSEvent, error) {
	dec := NewDecoder()
	events := make([]dvs.DVSEvent, 0, len(words))
	var err error
	for i, w := range words {
		if events, err = dec.Decode(events, w); err != nil {
			return events, &dvs.WordError{
				Format: dvs.FormatEVT3,
				Offset: int64(i * WordSize),
				Word:   uint64(w),
				Type:   uint8(SubtypeOf(w)),
				Err:    err,
			}
		}
	}
	return events, nil
}
