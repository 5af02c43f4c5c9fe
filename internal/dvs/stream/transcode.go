package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/monitoring"
)

// ErrorPolicy selects what Transcode does with a word the decoder rejects.
type ErrorPolicy int

const (
	// Abort stops at the first decode error.
	Abort ErrorPolicy = iota
	// Skip logs resumable decode errors and carries on with the next word.
	Skip
)

// ParseErrorPolicy maps "abort" / "skip" to a policy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	}
	return Abort, fmt.Errorf("unknown error policy %q (want abort or skip)", s)
}

func (p ErrorPolicy) String() string {
	if p == Skip {
		return "skip"
	}
	return "abort"
}

// TranscodeResult summarises one Transcode pass.
type TranscodeResult struct {
	Stats   dvs.Stats
	Skipped uint64
	Written int64
}

// Filter decides per event whether it is passed on to the writer.
type Filter func(dvs.DVSEvent) bool

// Transcode copies every event from r to w, applying keep when non-nil.
// Encode errors always abort. The writer is flushed before returning on
// success.
func Transcode(ctx context.Context, r *Reader, w *Writer, policy ErrorPolicy, keep Filter) (TranscodeResult, error) {
	var res TranscodeResult
	for {
		ev, err := r.next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if policy == Skip && Resumable(err) {
				res.Skipped++
				monitoring.Logf("[transcode] skipping word: %v", err)
				continue
			}
			return res, err
		}
		if keep != nil && !keep(ev) {
			continue
		}
		res.Stats.Add(ev)
		if err := w.Write(ev); err != nil {
			return res, fmt.Errorf("failed to encode event %s: %w", ev, err)
		}
	}
	if err := w.Flush(); err != nil {
		return res, err
	}
	res.Written = w.Written()
	return res, nil
}
