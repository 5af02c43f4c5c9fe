// Package stream drives the word codecs over byte streams: it locates the
// header once, then pulls fixed-width words and hands them to the decoder
// for the caller-selected format.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/dvs/dat"
	"github.com/banshee-data/dvs.codec/internal/dvs/evt2"
	"github.com/banshee-data/dvs.codec/internal/dvs/evt3"
	"github.com/banshee-data/dvs.codec/internal/dvs/header"
)

const readBufferSize = 64 * 1024

// Reader pulls canonical events out of a recording. It is not safe for
// concurrent use; give each goroutine its own Reader.
type Reader struct {
	br       *bufio.Reader
	format   dvs.Format
	header   *header.Header
	preamble dat.Preamble

	evt2 *evt2.Decoder
	evt3 *evt3.Decoder

	pending []dvs.DVSEvent
	pos     int

	buf     [dat.RecordSize]byte
	offset  int64 // bytes consumed since stream start
	words   uint64
	checkAt uint64 // word count at which ctx is next polled
	err     error  // terminal: io.EOF, truncation or I/O failure
}

// NewReader consumes the header of r and prepares a decoder for format.
func NewReader(r io.Reader, format dvs.Format) (*Reader, error) {
	if format.WordSize() == 0 {
		return nil, fmt.Errorf("cannot decode %s stream", format)
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, readBufferSize)
	}

	h, err := header.Read(br)
	if err != nil {
		return nil, err
	}
	rd := &Reader{
		br:     br,
		format: format,
		header: h,
		offset: h.Size,
	}

	switch format {
	case dvs.FormatEVT2:
		rd.evt2 = evt2.NewDecoder()
	case dvs.FormatEVT3:
		rd.evt3 = evt3.NewDecoder()
	case dvs.FormatDAT:
		if err := rd.readPreamble(); err != nil {
			return nil, err
		}
	}
	return rd, nil
}

func (r *Reader) readPreamble() error {
	var b [dat.PreambleSize]byte
	n, err := io.ReadFull(r.br, b[:])
	r.offset += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		r.preamble = dat.DefaultPreamble()
		r.err = io.EOF
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: dat preamble at offset %d", dvs.ErrTruncatedWord, r.offset-int64(n))
	case err != nil:
		return fmt.Errorf("failed to read dat preamble: %w", err)
	}
	p, err := dat.ParsePreamble(b)
	if err != nil {
		return err
	}
	r.preamble = p
	return nil
}

// Header returns the header located at stream start.
func (r *Reader) Header() *header.Header { return r.header }

// Format returns the format the reader decodes.
func (r *Reader) Format() dvs.Format { return r.format }

// Offset returns the number of bytes consumed so far, header included.
func (r *Reader) Offset() int64 { return r.offset }

// Words returns the number of complete words consumed.
func (r *Reader) Words() uint64 { return r.words }

// Next returns the next event. It returns io.EOF once the stream ends on a
// word boundary. Errors wrapping dvs.ErrUnsupportedEventType or
// dvs.ErrUninitializedState leave the reader usable: the word has been
// consumed and the next call continues with the following word. Any other
// error is terminal and is returned again by every later call.
func (r *Reader) Next() (dvs.DVSEvent, error) {
	return r.next(context.Background())
}

// next is Next with ctx polled every cancelCheckInterval words, including
// words that only change decoder state. A cancellation error is not sticky.
func (r *Reader) next(ctx context.Context) (dvs.DVSEvent, error) {
	for {
		if r.pos < len(r.pending) {
			ev := r.pending[r.pos]
			r.pos++
			return ev, nil
		}
		if r.err != nil {
			return dvs.DVSEvent{}, r.err
		}
		r.pending = r.pending[:0]
		r.pos = 0
		if r.words >= r.checkAt {
			if err := ctx.Err(); err != nil {
				return dvs.DVSEvent{}, err
			}
			r.checkAt = r.words + cancelCheckInterval
		}
		if err := r.step(); err != nil {
			return dvs.DVSEvent{}, err
		}
	}
}

// NextRaw returns the next EVT2 word as a raw event, TIME_HIGH words
// included. It is only available on EVT2 readers and must not be mixed with
// Next on the same reader.
func (r *Reader) NextRaw() (dvs.RawEvent, error) {
	if r.format != dvs.FormatEVT2 {
		return dvs.RawEvent{}, fmt.Errorf("raw events are only defined for evt2, not %s", r.format)
	}
	if r.err != nil {
		return dvs.RawEvent{}, r.err
	}
	b, off, err := r.readWord()
	if err != nil {
		return dvs.RawEvent{}, err
	}
	word := evt2.Uint32(b)
	raw, err := r.evt2.DecodeRaw(word)
	if err != nil {
		return dvs.RawEvent{}, r.wordError(off, uint64(word), evt2.Type(word), err)
	}
	return raw, nil
}

// step consumes one word and queues the events it yields.
func (r *Reader) step() error {
	b, off, err := r.readWord()
	if err != nil {
		return err
	}

	switch r.format {
	case dvs.FormatEVT2:
		word := evt2.Uint32(b)
		ev, ok, err := r.evt2.Decode(word)
		if err != nil {
			return r.wordError(off, uint64(word), evt2.Type(word), err)
		}
		if ok {
			r.pending = append(r.pending, ev)
		}
	case dvs.FormatEVT3:
		word := evt3.Uint16(b)
		r.pending, err = r.evt3.Decode(r.pending, word)
		if err != nil {
			return r.wordError(off, uint64(word), uint8(evt3.SubtypeOf(word)), err)
		}
	case dvs.FormatDAT:
		r.pending = append(r.pending, dat.Decode(b))
	}
	return nil
}

// readWord reads exactly one word. A clean end of stream becomes io.EOF and
// a partial word becomes ErrTruncatedWord; both are terminal.
func (r *Reader) readWord() ([]byte, int64, error) {
	size := r.format.WordSize()
	b := r.buf[:size]
	off := r.offset
	n, err := io.ReadFull(r.br, b)
	r.offset += int64(n)
	switch {
	case err == nil:
		r.words++
		return b, off, nil
	case errors.Is(err, io.EOF):
		r.err = io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.err = &dvs.WordError{
			Format: r.format,
			Offset: off,
			Err:    fmt.Errorf("%w: %d of %d bytes", dvs.ErrTruncatedWord, n, size),
		}
	default:
		r.err = fmt.Errorf("failed to read %s word at offset %d: %w", r.format, off, err)
	}
	return nil, off, r.err
}

func (r *Reader) wordError(off int64, word uint64, typ uint8, err error) error {
	return &dvs.WordError{Format: r.format, Offset: off, Word: word, Type: typ, Err: err}
}

// Resumable reports whether decoding may continue after err.
func Resumable(err error) bool {
	return errors.Is(err, dvs.ErrUnsupportedEventType) || errors.Is(err, dvs.ErrUninitializedState)
}

// Events iterates over the remaining events. A decode error is yielded once
// with a zero event; iteration continues past it only if the consumer keeps
// going and the error is Resumable. The sequence ends silently at io.EOF.
func (r *Reader) Events() iter.Seq2[dvs.DVSEvent, error] {
	return r.EventsContext(context.Background())
}

// EventsContext is Events with ctx polled between words. Cancellation is
// yielded as ctx.Err() and ends the sequence.
func (r *Reader) EventsContext(ctx context.Context) iter.Seq2[dvs.DVSEvent, error] {
	return func(yield func(dvs.DVSEvent, error) bool) {
		for {
			ev, err := r.next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) {
				return
			}
			if err != nil && !Resumable(err) {
				return
			}
		}
	}
}

// cancelCheckInterval is how many words pass between context checks.
const cancelCheckInterval = 1024

// ReadAll decodes the rest of the stream. It stops at the first error, or
// when ctx is cancelled, returning the events decoded so far.
func (r *Reader) ReadAll(ctx context.Context) ([]dvs.DVSEvent, error) {
	var events []dvs.DVSEvent
	for {
		ev, err := r.next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
