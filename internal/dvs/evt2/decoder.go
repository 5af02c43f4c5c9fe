package evt2

import (
	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// Decoder turns EVT2 words into events. Its only cross-word state is the
// time-high register. The zero value is ready to use and behaves as if a
// TIME_HIGH word of 0 had been seen.
type Decoder struct {
	timeHigh uint32
}

// NewDecoder returns a decoder with a cleared time-high register.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// TimeHigh returns the current time-high register value.
func (d *Decoder) TimeHigh() uint32 {
	return d.timeHigh
}

// DecodeRaw parses one word and applies it to the decoder state. TIME_HIGH
// words update the register; CD words leave it alone. On error the state is
// unchanged.
func (d *Decoder) DecodeRaw(word uint32) (dvs.RawEvent, error) {
	raw, err := ParseWord(word)
	if err != nil {
		return dvs.RawEvent{}, err
	}
	if raw.Kind == dvs.RawTimeHigh {
		d.timeHigh = raw.TimeHigh
	}
	return raw, nil
}

// Resolve reconstructs the absolute timestamp of a CD raw event from the
// current register. It returns false for non-CD kinds.
func (d *Decoder) Resolve(raw dvs.RawEvent) (dvs.DVSEvent, bool) {
	if raw.Kind != dvs.RawCD {
		return dvs.DVSEvent{}, false
	}
	return dvs.DVSEvent{
		Timestamp: dvs.Timestamp(d.timeHigh)<<TimeLowBits | dvs.Timestamp(raw.TimeLow),
		X:         raw.X,
		Y:         raw.Y,
		Polarity:  raw.Polarity,
	}, true
}

// Decode processes one word. ok is false when the word only changed state.
func (d *Decoder) Decode(word uint32) (ev dvs.DVSEvent, ok bool, err error) {
	raw, err := d.DecodeRaw(word)
	if err != nil {
		return dvs.DVSEvent{}, false, err
	}
	ev, ok = d.Resolve(raw)
	return ev, ok, nil
}

// Reset clears the time-high register for a new pass.
func (d *Decoder) Reset() {
	d.timeHigh = 0
}
