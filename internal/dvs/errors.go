package dvs

import (
	"errors"
	"fmt"
)

var (
	// ErrHeaderRead reports a header line that ended without a terminator.
	ErrHeaderRead = errors.New("header read error")
	// ErrUnsupportedEventType reports a type tag the codec does not implement.
	// The offending word has been consumed and decoder state is unchanged.
	ErrUnsupportedEventType = errors.New("unsupported event type")
	// ErrUninitializedState reports an address or vector word that arrived
	// before the state it depends on was set.
	ErrUninitializedState = errors.New("uninitialized decoder state")
	// ErrEncodeRange reports a value too large for its wire field.
	ErrEncodeRange = errors.New("value out of encodable range")
	// ErrTruncatedWord reports end of stream in the middle of a word.
	ErrTruncatedWord = errors.New("truncated word")
	// ErrOutOfOrder reports encoder input whose timestamps go backwards in a
	// way the wire format cannot represent.
	ErrOutOfOrder = errors.New("timestamp out of order")
)

// WordError attaches the failing word and its position to a codec error.
type WordError struct {
	Format Format
	Offset int64  // byte offset of the word from the start of the stream
	Word   uint64 // raw word value
	Type   uint8  // type nibble
	Err    error
}

func (e *WordError) Error() string {
	return fmt.Sprintf("%s word 0x%0*x (type 0x%x) at offset %d: %v",
		e.Format, e.Format.WordSize()*2, e.Word, e.Type, e.Offset, e.Err)
}

func (e *WordError) Unwrap() error { return e.Err }
