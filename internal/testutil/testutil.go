// Package testutil provides shared test helpers and event fixtures.
package testutil

import (
	"bytes"
	"math/rand"
	"sort"

	"github.com/banshee-data/dvs.codec/internal/dvs"
)

// SensorEvents returns n events shaped like sensor output: non-decreasing
// timestamps, bursts sharing a timestamp, and short horizontal runs on one
// row. maxStep bounds the gap between bursts in microseconds and maxCoord
// bounds x and y. The result depends only on seed.
func SensorEvents(seed int64, n int, maxStep uint64, maxCoord uint16) []dvs.DVSEvent {
	rng := rand.New(rand.NewSource(seed))
	events := make([]dvs.DVSEvent, 0, n)
	var ts dvs.Timestamp
	for len(events) < n {
		if maxStep > 0 {
			ts += uint64(rng.Int63n(int64(maxStep) + 1))
		}
		burst := make([]dvs.DVSEvent, 0, 16)
		for rows := 1 + rng.Intn(3); rows > 0; rows-- {
			y := uint16(rng.Intn(int(maxCoord) + 1))
			x := uint16(rng.Intn(int(maxCoord) + 1))
			pol := dvs.Polarity(rng.Intn(2))
			for run := 1 + rng.Intn(6); run > 0 && x <= maxCoord; run-- {
				burst = append(burst, dvs.DVSEvent{Timestamp: ts, X: x, Y: y, Polarity: pol})
				x += uint16(1 + rng.Intn(3))
			}
		}
		sort.SliceStable(burst, func(i, j int) bool {
			if burst[i].Y != burst[j].Y {
				return burst[i].Y < burst[j].Y
			}
			return burst[i].X < burst[j].X
		})
		events = append(events, burst...)
	}
	return events[:n]
}

// WithHeader prefixes body with header lines, each terminated by '\n'.
func WithHeader(body []byte, lines ...string) []byte {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	buf.Write(body)
	return buf.Bytes()
}
