// Package evt3 implements the Prophesee EVT 3.0 word codec.
//
// EVT3 words are 16 bits, little-endian on the wire. Bits [15:12] select a
// subtype and bits [11:0] carry its payload. Most words only update hidden
// decoder state (row, vector base, time halves); EVT_ADDR_X emits one event
// and VECT_12 / VECT_8 emit one event per set bit of their mask.
//
//	EVT_ADDR_Y   0x0  [10:0] y        [11] system type
//	EVT_ADDR_X   0x2  [10:0] x        [11] polarity
//	VECT_BASE_X  0x3  [10:0] base x   [11] polarity
//	VECT_12      0x4  [11:0] mask
//	VECT_8       0x5  [7:0]  mask
//	EVT_TIME_LOW 0x6  [11:0] time low
//	CONTINUED_4  0x7  (unsupported)
//	EVT_TIME_HIGH 0x8 [11:0] time high
//	EXT_TRIGGER  0xA  (unsupported)
//	OTHERS       0xE  (unsupported)
//	CONTINUED_12 0xF  (unsupported)
//
// Absolute time is (epoch << 24) | (time_high << 12) | time_low, where epoch
// counts 12-bit wraparounds of time_high.
package evt3

import (
	"encoding/binary"
	"fmt"
)

// Subtype is the upper nibble of an EVT3 word.
type Subtype uint8

const (
	AddrY       Subtype = 0x0
	AddrX       Subtype = 0x2
	VectBaseX   Subtype = 0x3
	Vect12      Subtype = 0x4
	Vect8       Subtype = 0x5
	TimeLow     Subtype = 0x6
	Continued4  Subtype = 0x7
	TimeHigh    Subtype = 0x8
	ExtTrigger  Subtype = 0xA
	Others      Subtype = 0xE
	Continued12 Subtype = 0xF
)

func (s Subtype) String() string {
	switch s {
	case AddrY:
		return "EVT_ADDR_Y"
	case AddrX:
		return "EVT_ADDR_X"
	case VectBaseX:
		return "VECT_BASE_X"
	case Vect12:
		return "VECT_12"
	case Vect8:
		return "VECT_8"
	case TimeLow:
		return "EVT_TIME_LOW"
	case Continued4:
		return "CONTINUED_4"
	case TimeHigh:
		return "EVT_TIME_HIGH"
	case ExtTrigger:
		return "EXT_TRIGGER"
	case Others:
		return "OTHERS"
	case Continued12:
		return "CONTINUED_12"
	default:
		return fmt.Sprintf("SUBTYPE_0x%X", uint8(s))
	}
}

const (
	WordSize     = 2
	PayloadBits  = 12
	CoordBits    = 11
	MaxCoord     = 1<<CoordBits - 1
	Vect12Width  = 12
	Vect8Width   = 8
	MaxTimeField = 1<<PayloadBits - 1

	timeHighShift = 12
	epochShift    = 24
	payloadMask   = 1<<PayloadBits - 1
	coordMask     = MaxCoord
	flagBit       = 1 << CoordBits
	subtypeShift  = 12
)

// Word assembles a word from a subtype and a 12-bit payload.
func Word(s Subtype, payload uint16) uint16 {
	return uint16(s)<<subtypeShift | payload&payloadMask
}

// SubtypeOf returns the subtype nibble of word.
func SubtypeOf(word uint16) Subtype {
	return Subtype(word >> subtypeShift)
}

// Payload returns the low 12 bits of word.
func Payload(word uint16) uint16 {
	return word & payloadMask
}

// splitCoord extracts the 11-bit coordinate and the flag bit shared by
// EVT_ADDR_Y, EVT_ADDR_X and VECT_BASE_X.
func splitCoord(payload uint16) (uint16, uint8) {
	return payload & coordMask, uint8(payload >> CoordBits & 1)
}

func joinCoord(coord uint16, flag uint8) uint16 {
	p := coord & coordMask
	if flag != 0 {
		p |= flagBit
	}
	return p
}

// Uint16 reads one little-endian word from b, which must hold WordSize bytes.
func Uint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// PutUint16 writes word into b in wire order.
func PutUint16(b []byte, word uint16) {
	binary.LittleEndian.PutUint16(b, word)
}
