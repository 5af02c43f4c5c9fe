// Package dat implements the Prophesee CD .dat record codec.
//
// After the '%' header a DAT file carries two bytes (event type, event size)
// followed by fixed 8-byte records:
//
//	bytes 0-3  uint32 LE  timestamp (µs)
//	bytes 4-7  uint32 LE  [13:0] x  [27:14] y  [31:28] polarity
//
// Records are self-contained, so there is no decoder state.
package dat

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

const (
	RecordSize   = 8
	PreambleSize = 2 // event type + event size after the header
	EventTypeCD  = 0x0C
	CoordBits    = 14
	MaxCoord     = 1<<CoordBits - 1
	MaxTimestamp = 1<<32 - 1

	coordMask = MaxCoord
	yShift    = 14
	polShift  = 28
)

// Preamble is the type/size pair written after the header.
type Preamble struct {
	EventType uint8
	EventSize uint8
}

// ParsePreamble validates the two bytes that follow the header.
func ParsePreamble(b [PreambleSize]byte) (Preamble, error) {
	p := Preamble{EventType: b[0], EventSize: b[1]}
	if p.EventSize != RecordSize {
		return p, fmt.Errorf("%w: dat event size %d (want %d)", dvs.ErrUnsupportedEventType, p.EventSize, RecordSize)
	}
	return p, nil
}

// Bytes renders the preamble.
func (p Preamble) Bytes() [PreambleSize]byte {
	return [PreambleSize]byte{p.EventType, p.EventSize}
}

// DefaultPreamble describes CD records.
func DefaultPreamble() Preamble {
	return Preamble{EventType: EventTypeCD, EventSize: RecordSize}
}

// Decode parses one record.
func Decode(rec []byte) dvs.DVSEvent {
	ts := binary.LittleEndian.Uint32(rec[0:4])
	data := binary.LittleEndian.Uint32(rec[4:8])
	pol := dvs.PolarityOff
	if data>>polShift != 0 {
		pol = dvs.PolarityOn
	}
	return dvs.DVSEvent{
		Timestamp: dvs.Timestamp(ts),
		X:         uint16(data & coordMask),
		Y:         uint16(data >> yShift & coordMask),
		Polarity:  pol,
	}
}

// Encode writes ev into rec, which must hold RecordSize bytes.
func Encode(rec []byte, ev dvs.DVSEvent) error {
	if ev.X > MaxCoord || ev.Y > MaxCoord {
		return fmt.Errorf("%w: x=%d y=%d exceed %d bits", dvs.ErrEncodeRange, ev.X, ev.Y, CoordBits)
	}
	if ev.Timestamp > MaxTimestamp {
		return fmt.Errorf("%w: timestamp %d exceeds 32 bits", dvs.ErrEncodeRange, ev.Timestamp)
	}
	data := uint32(ev.X) | uint32(ev.Y)<<yShift | uint32(ev.Polarity&1)<<polShift
	binary.LittleEndian.PutUint32(rec[0:4], uint32(ev.Timestamp))
	binary.LittleEndian.PutUint32(rec[4:8], data)
	return nil
}
