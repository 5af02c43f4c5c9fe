package dvs

// Stats accumulates summary figures over a decoded event sequence.
// A zero Stats is ready to use. Width/Height of zero disable bounds checks.
type Stats struct {
	Width  uint16
	Height uint16

	Events      uint64
	OnEvents    uint64
	OffEvents   uint64
	First       Timestamp
	Last        Timestamp
	MaxX        uint16
	MaxY        uint16
	Regressions uint64 // events whose timestamp is lower than the previous one
	OutOfBounds uint64 // events outside Width x Height
}

// Add folds one event into the summary.
func (s *Stats) Add(ev DVSEvent) {
	if s.Events == 0 {
		s.First = ev.Timestamp
	} else if ev.Timestamp < s.Last {
		s.Regressions++
	}
	s.Events++
	s.Last = ev.Timestamp

	if ev.Polarity == PolarityOn {
		s.OnEvents++
	} else {
		s.OffEvents++
	}
	if ev.X > s.MaxX {
		s.MaxX = ev.X
	}
	if ev.Y > s.MaxY {
		s.MaxY = ev.Y
	}
	if s.Width > 0 && s.Height > 0 && (ev.X >= s.Width || ev.Y >= s.Height) {
		s.OutOfBounds++
	}
}

// Duration is the span between the first and last event in microseconds.
func (s *Stats) Duration() Timestamp {
	if s.Events == 0 || s.Last < s.First {
		return 0
	}
	return s.Last - s.First
}

// Monotonic reports whether no timestamp regression has been seen.
func (s *Stats) Monotonic() bool {
	return s.Regressions == 0
}
