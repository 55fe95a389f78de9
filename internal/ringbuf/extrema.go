package ringbuf

import "time"

type point struct {
	t time.Time
	v float64
}

// Extrema tracks the minimum and maximum of a value over a sliding time
// span using two monotonic queues, so each push costs amortised O(1).
// Timestamps passed to Push must not decrease.
type Extrema struct {
	span   time.Duration
	maxq   []point
	minq   []point
	oldest time.Time
	count  int
}

// NewExtrema creates a tracker over the given span.
func NewExtrema(span time.Duration) *Extrema {
	return &Extrema{span: span}
}

// Push records v at t and expires values older than t - span.
func (e *Extrema) Push(t time.Time, v float64) {
	if e.count == 0 {
		e.oldest = t
	}
	e.count++

	for len(e.maxq) > 0 && e.maxq[len(e.maxq)-1].v <= v {
		e.maxq = e.maxq[:len(e.maxq)-1]
	}
	e.maxq = append(e.maxq, point{t, v})

	for len(e.minq) > 0 && e.minq[len(e.minq)-1].v >= v {
		e.minq = e.minq[:len(e.minq)-1]
	}
	e.minq = append(e.minq, point{t, v})

	cutoff := t.Add(-e.span)
	for len(e.maxq) > 0 && e.maxq[0].t.Before(cutoff) {
		e.maxq = e.maxq[1:]
	}
	for len(e.minq) > 0 && e.minq[0].t.Before(cutoff) {
		e.minq = e.minq[1:]
	}
}

// Spread returns max - min over the current span, or 0 when empty.
func (e *Extrema) Spread() float64 {
	if len(e.maxq) == 0 || len(e.minq) == 0 {
		return 0
	}
	return e.maxq[0].v - e.minq[0].v
}

// Covers reports whether values have been pushed for at least a full span
// ending at t.
func (e *Extrema) Covers(t time.Time) bool {
	return e.count > 0 && t.Sub(e.oldest) >= e.span
}

// Reset forgets every value.
func (e *Extrema) Reset() {
	e.maxq = e.maxq[:0]
	e.minq = e.minq[:0]
	e.count = 0
	e.oldest = time.Time{}
}
