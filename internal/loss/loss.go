// Package loss simulates a bandwidth-limited link by dropping events that
// exceed a per-chunk budget.
package loss

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// Strategy picks which events of an over-budget chunk are dropped.
type Strategy int

const (
	// Tail keeps the first events of each chunk and drops the rest.
	Tail Strategy = iota + 1
	// Uniform drops events at evenly spaced positions across the chunk.
	Uniform
)

func (s Strategy) String() string {
	switch s {
	case Tail:
		return "tail"
	case Uniform:
		return "uniform"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy accepts the strategy name or its number ("1" tail, "2" uniform).
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tail", "1":
		return Tail, nil
	case "uniform", "2":
		return Uniform, nil
	}
	return 0, fmt.Errorf("unknown loss strategy %q (want tail or uniform)", s)
}

// DefaultBitsPerEvent is the EVT2 word width.
const DefaultBitsPerEvent = 32

// Params configures a simulation run.
type Params struct {
	ChunkMs       float64
	BandwidthMbps float64
	BitsPerEvent  float64
	Strategy      Strategy
}

// Validate reports the first unusable parameter.
func (p Params) Validate() error {
	var errs []error
	if !(p.ChunkMs*1000 >= 1) {
		errs = append(errs, fmt.Errorf("chunk size must be at least 1µs, got %vms", p.ChunkMs))
	}
	if !(p.BandwidthMbps >= 0) || math.IsInf(p.BandwidthMbps, 0) {
		errs = append(errs, fmt.Errorf("bandwidth must be a finite non-negative number, got %v", p.BandwidthMbps))
	}
	if !(p.BitsPerEvent > 0) {
		errs = append(errs, fmt.Errorf("bits per event must be positive, got %v", p.BitsPerEvent))
	}
	if p.Strategy != Tail && p.Strategy != Uniform {
		errs = append(errs, fmt.Errorf("unknown strategy %v", p.Strategy))
	}
	return errors.Join(errs...)
}

// Budget is the number of events a chunk may carry.
func (p Params) Budget() int {
	return int(p.BandwidthMbps * 1000 * p.ChunkMs / p.BitsPerEvent)
}

func (p Params) chunkMicros() uint64 {
	return uint64(p.ChunkMs * 1000)
}

// Report summarises a simulation run.
type Report struct {
	InputEvents  int
	OutputEvents int
	Chunks       int
	Saturated    int // chunks that exceeded the budget
	Duration     float64
	OriginalMbps float64
	LossyMbps    float64
	ChunkMean    float64 // mean input events per chunk
	ChunkStdDev  float64
}

// DropRate is the fraction of input events removed.
func (r Report) DropRate() float64 {
	if r.InputEvents == 0 {
		return 0
	}
	return 1 - float64(r.OutputEvents)/float64(r.InputEvents)
}

// Apply returns the events that survive the simulated link, in input
// order. The first chunk starts at the first event; each later chunk starts
// at the chunk boundary below the event that opens it.
func Apply(events []dvs.DVSEvent, p Params) ([]dvs.DVSEvent, Report, error) {
	if err := p.Validate(); err != nil {
		return nil, Report{}, err
	}
	out := make([]dvs.DVSEvent, 0, len(events))
	rep := Report{InputEvents: len(events)}
	if len(events) == 0 {
		return out, rep, nil
	}

	budget := p.Budget()
	chunk := p.chunkMicros()
	var sizes []float64

	start := 0
	zero := events[0].Timestamp
	flush := func(end int) {
		c := events[start:end]
		sizes = append(sizes, float64(len(c)))
		if len(c) > budget {
			rep.Saturated++
		}
		out = keep(out, c, budget, p.Strategy)
	}
	for i, ev := range events {
		if ev.Timestamp < zero+chunk {
			continue
		}
		flush(i)
		start = i
		zero = ev.Timestamp - ev.Timestamp%chunk
	}
	flush(len(events))

	rep.OutputEvents = len(out)
	rep.Chunks = len(sizes)
	rep.ChunkMean = stat.Mean(sizes, nil)
	if len(sizes) > 1 {
		rep.ChunkStdDev = stat.StdDev(sizes, nil)
	}
	first, last := events[0].Timestamp, events[len(events)-1].Timestamp
	if last > first {
		rep.Duration = float64(last-first) / 1e6
		rep.OriginalMbps = float64(rep.InputEvents) * p.BitsPerEvent / 1e6 / rep.Duration
		rep.LossyMbps = float64(rep.OutputEvents) * p.BitsPerEvent / 1e6 / rep.Duration
	}
	return out, rep, nil
}

// keep appends the survivors of one chunk to dst.
func keep(dst, chunk []dvs.DVSEvent, budget int, s Strategy) []dvs.DVSEvent {
	n := len(chunk)
	if n <= budget {
		return append(dst, chunk...)
	}
	if s == Tail {
		return append(dst, chunk[:budget]...)
	}

	// Drop event idx (1-based) whenever the running removal count falls
	// behind toRemove*idx/n. Exactly toRemove events go.
	toRemove := n - budget
	removed := 0
	for i, ev := range chunk {
		idx := i + 1
		if removed*n < toRemove*idx {
			removed++
			continue
		}
		dst = append(dst, ev)
	}
	return dst
}
