// Package dvs holds the format-independent event model shared by the EVT2,
// EVT3 and DAT codecs.
//
// Codec packages (evt2, evt3, dat) convert between wire words and DVSEvent.
// The stream package drives them over a byte source or sink.
package dvs

import (
	"fmt"
	"strings"
)

// Timestamp is an absolute event time in microseconds since stream start.
type Timestamp = uint64

// Polarity is the direction of the light-intensity change.
type Polarity uint8

const (
	PolarityOff Polarity = 0 // negative change
	PolarityOn  Polarity = 1 // positive change
)

func (p Polarity) String() string {
	if p == PolarityOn {
		return "on"
	}
	return "off"
}

// DVSEvent is one change-detection event in canonical form.
type DVSEvent struct {
	Timestamp Timestamp
	X         uint16
	Y         uint16
	Polarity  Polarity
}

func (e DVSEvent) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", e.Timestamp, e.X, e.Y, e.Polarity)
}

// RawKind tags the variant held by a RawEvent.
type RawKind uint8

const (
	RawCD       RawKind = iota // change detection, partial timestamp
	RawTimeHigh                // time-high register update
)

// RawEvent is an EVT2 word after field extraction but before timestamp
// reconstruction. For RawCD only TimeLow, X, Y and Polarity are meaningful;
// for RawTimeHigh only TimeHigh is.
type RawEvent struct {
	Kind     RawKind
	TimeLow  uint8  // 6 bits
	TimeHigh uint32 // 28 bits
	X        uint16
	Y        uint16
	Polarity Polarity
}

// Format selects the wire format of an event stream. It is always supplied
// by the caller; streams are never sniffed.
type Format int

const (
	FormatUnknown Format = iota
	FormatEVT2
	FormatEVT3
	FormatDAT
)

func (f Format) String() string {
	switch f {
	case FormatEVT2:
		return "evt2"
	case FormatEVT3:
		return "evt3"
	case FormatDAT:
		return "dat"
	default:
		return "unknown"
	}
}

// WordSize is the number of bytes one wire word (or DAT record) occupies.
func (f Format) WordSize() int {
	switch f {
	case FormatEVT2:
		return 4
	case FormatEVT3:
		return 2
	case FormatDAT:
		return 8
	default:
		return 0
	}
}

// ParseFormat accepts "evt2", "evt2.0", "evt3", "evt3.0" and "dat" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evt2", "evt2.0", "2", "2.0":
		return FormatEVT2, nil
	case "evt3", "evt3.0", "3", "3.0":
		return FormatEVT3, nil
	case "dat":
		return FormatDAT, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown event format %q (want evt2, evt3 or dat)", s)
	}
}
