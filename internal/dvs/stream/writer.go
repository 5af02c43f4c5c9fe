package stream

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/dvs/dat"
	"github.com/banshee-data/dvs.codec/internal/dvs/evt2"
	"github.com/banshee-data/dvs.codec/internal/dvs/evt3"
	"github.com/banshee-data/dvs.codec/internal/dvs/header"
)

// maxGroup caps how many same-timestamp events the EVT3 writer holds back
// for vectorisation before encoding them.
const maxGroup = 4096

// Writer encodes canonical events onto a byte sink. Call Flush when done;
// buffered events are not written until then.
type Writer struct {
	bw     *bufio.Writer
	format dvs.Format

	evt2 *evt2.Encoder
	evt3 *evt3.Encoder

	group  []dvs.DVSEvent // evt3: pending events sharing one timestamp
	words2 []uint32
	words3 []uint16
	rec    [dat.RecordSize]byte

	written int64
	events  uint64
	err     error
}

// NewWriter writes the header lines (and for DAT, the record preamble) and
// returns a writer for format. Pass nil lines to omit the header.
func NewWriter(w io.Writer, format dvs.Format, lines []string) (*Writer, error) {
	if format.WordSize() == 0 {
		return nil, fmt.Errorf("cannot encode %s stream", format)
	}
	wr := &Writer{
		bw:     bufio.NewWriterSize(w, readBufferSize),
		format: format,
	}

	n, err := header.Write(wr.bw, lines)
	wr.written += n
	if err != nil {
		return nil, err
	}

	switch format {
	case dvs.FormatEVT2:
		wr.evt2 = evt2.NewEncoder()
	case dvs.FormatEVT3:
		wr.evt3 = evt3.NewEncoder()
	case dvs.FormatDAT:
		p := dat.DefaultPreamble().Bytes()
		if err := wr.write(p[:]); err != nil {
			return nil, err
		}
	}
	return wr, nil
}

// Written returns the number of bytes handed to the sink so far, including
// bytes still held in the write buffer.
func (w *Writer) Written() int64 { return w.written }

// Events returns the number of events accepted.
func (w *Writer) Events() uint64 { return w.events }

// Write encodes events. An encode error is returned for the first event that
// cannot be represented; events before it have been accepted.
func (w *Writer) Write(events ...dvs.DVSEvent) error {
	if w.err != nil {
		return w.err
	}
	for _, ev := range events {
		var err error
		switch w.format {
		case dvs.FormatEVT2:
			w.words2, err = w.evt2.Encode(w.words2[:0], ev)
			if err == nil {
				err = w.flushWords2()
			}
		case dvs.FormatEVT3:
			if len(w.group) > 0 && (ev.Timestamp != w.group[0].Timestamp || len(w.group) >= maxGroup) {
				err = w.flushGroup()
			}
			if err == nil {
				// The held-back group shares ev's timestamp, so checking
				// against the flushed state is enough.
				err = w.evt3.Check(ev)
			}
			if err == nil {
				w.group = append(w.group, ev)
			}
		case dvs.FormatDAT:
			err = dat.Encode(w.rec[:], ev)
			if err == nil {
				err = w.write(w.rec[:])
			}
		}
		if err != nil {
			return err
		}
		w.events++
	}
	return nil
}

// WriteRaw writes one EVT2 raw event verbatim.
func (w *Writer) WriteRaw(raw dvs.RawEvent) error {
	if w.format != dvs.FormatEVT2 {
		return fmt.Errorf("raw events are only defined for evt2, not %s", w.format)
	}
	if w.err != nil {
		return w.err
	}
	var err error
	if w.words2, err = w.evt2.EncodeRaw(w.words2[:0], raw); err != nil {
		return err
	}
	if raw.Kind == dvs.RawCD {
		w.events++
	}
	return w.flushWords2()
}

// Flush encodes any held-back events and flushes the sink buffer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.flushGroup(); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		w.err = fmt.Errorf("failed to flush %s stream: %w", w.format, err)
		return w.err
	}
	return nil
}

func (w *Writer) flushGroup() error {
	if len(w.group) == 0 {
		return nil
	}
	var encErr error
	w.words3, encErr = w.evt3.Encode(w.words3[:0], w.group)
	w.group = w.group[:0]
	// Words for events ahead of a failure are still written.
	var b [evt3.WordSize]byte
	for _, word := range w.words3 {
		evt3.PutUint16(b[:], word)
		if err := w.write(b[:]); err != nil {
			return err
		}
	}
	return encErr
}

func (w *Writer) flushWords2() error {
	var b [evt2.WordSize]byte
	for _, word := range w.words2 {
		evt2.PutUint32(b[:], word)
		if err := w.write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.bw.Write(b)
	w.written += int64(n)
	if err != nil {
		w.err = fmt.Errorf("failed to write %s stream at offset %d: %w", w.format, w.written, err)
		return w.err
	}
	return nil
}
