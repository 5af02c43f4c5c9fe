// Package evt2 implements the Prophesee EVT 2.0 word codec.
//
// Every word is 32 bits, little-endian on the wire:
//
//	CD_OFF / CD_ON   [31:28] type  [27:22] time low  [21:11] x  [10:0] y
//	EVT_TIME_HIGH    [31:28] type  [27:0]  time high
//
// The absolute timestamp of a CD event is (time_high << 6) | time_low, where
// time_high is the value of the last TIME_HIGH word seen.
package evt2

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// Word type tags (bits [31:28]).
const (
	TypeCDOff      = 0x0
	TypeCDOn       = 0x1
	TypeTimeHigh   = 0x8
	TypeExtTrigger = 0xA
)

const (
	WordSize     = 4
	TimeLowBits  = 6
	TimeHighBits = 28
	CoordBits    = 11
	MaxCoord     = 1<<CoordBits - 1
	MaxTimeHigh  = 1<<TimeHighBits - 1
	MaxTimestamp = dvs.Timestamp(MaxTimeHigh)<<TimeLowBits | timeLowMask

	timeLowMask  = 1<<TimeLowBits - 1
	payloadMask  = 1<<28 - 1
	coordMask    = MaxCoord
	timeLowShift = 22
	xShift       = 11
	typeShift    = 28
)

// Type returns the type nibble of a word.
func Type(word uint32) uint8 {
	return uint8(word >> typeShift)
}

// ParseWord splits a word into its fields without touching any decoder
// state. Unsupported types return ErrUnsupportedEventType.
func ParseWord(word uint32) (dvs.RawEvent, error) {
	switch Type(word) {
	case TypeCDOff, TypeCDOn:
		pol := dvs.PolarityOff
		if Type(word) == TypeCDOn {
			pol = dvs.PolarityOn
		}
		return dvs.RawEvent{
			Kind:     dvs.RawCD,
			TimeLow:  uint8((word >> timeLowShift) & timeLowMask),
			X:        uint16((word >> xShift) & coordMask),
			Y:        uint16(word & coordMask),
			Polarity: pol,
		}, nil
	case TypeTimeHigh:
		return dvs.RawEvent{
			Kind:     dvs.RawTimeHigh,
			TimeHigh: word & payloadMask,
		}, nil
	default:
		return dvs.RawEvent{}, dvs.ErrUnsupportedEventType
	}
}

// FormatWord packs a raw event into a word. It is the inverse of ParseWord.
func FormatWord(raw dvs.RawEvent) (uint32, error) {
	switch raw.Kind {
	case dvs.RawCD:
		if raw.X > MaxCoord || raw.Y > MaxCoord {
			return 0, fmt.Errorf("%w: x=%d y=%d exceed %d bits", dvs.ErrEncodeRange, raw.X, raw.Y, CoordBits)
		}
		if raw.TimeLow > timeLowMask {
			return 0, fmt.Errorf("%w: time low %d exceeds %d bits", dvs.ErrEncodeRange, raw.TimeLow, TimeLowBits)
		}
		typ := uint32(TypeCDOff)
		if raw.Polarity == dvs.PolarityOn {
			typ = TypeCDOn
		}
		return typ<<typeShift |
			uint32(raw.TimeLow)<<timeLowShift |
			uint32(raw.X)<<xShift |
			uint32(raw.Y), nil
	case dvs.RawTimeHigh:
		if raw.TimeHigh > MaxTimeHigh {
			return 0, fmt.Errorf("%w: time high %d exceeds %d bits", dvs.ErrEncodeRange, raw.TimeHigh, TimeHighBits)
		}
		return TypeTimeHigh<<typeShift | raw.TimeHigh, nil
	default:
		return 0, fmt.Errorf("%w: raw kind %d", dvs.ErrUnsupportedEventType, raw.Kind)
	}
}

// Uint32 reads one little-endian word from b, which must hold WordSize bytes.
func Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// PutUint32 writes word into b in wire order.
func PutUint32(b []byte, word uint32) {
	binary.LittleEndian.PutUint32(b, word)
}
