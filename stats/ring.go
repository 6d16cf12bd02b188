/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import "time"

// HistoricalPoint is a single sampled value with its sampling time.
type HistoricalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ring is a fixed-capacity FIFO buffer of historical points.
// On overflow the oldest point is evicted. Not safe for concurrent use,
// the Aggregator serializes access.
type ring struct {
	points []HistoricalPoint
	head   int
	size   int
}

func newRing(capacity int) *ring {
	return &ring{points: make([]HistoricalPoint, capacity)}
}

func (r *ring) append(p HistoricalPoint) {
	tail := (r.head + r.size) % len(r.points)
	r.points[tail] = p
	if r.size < len(r.points) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.points)
}

// snapshot returns the buffered points ordered oldest first.
func (r *ring) snapshot() []HistoricalPoint {
	out := make([]HistoricalPoint, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.points[(r.head+i)%len(r.points)]
	}
	return out
}
