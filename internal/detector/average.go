package detector

// movingAverage keeps the running mean of the last n values.
type movingAverage struct {
	vals []int
	next int
	full bool
	sum  int64
}

func newMovingAverage(n int) *movingAverage {
	return &movingAverage{vals: make([]int, n)}
}

func (m *movingAverage) push(v int) {
	if m.full {
		m.sum -= int64(m.vals[m.next])
	}
	m.vals[m.next] = v
	m.sum += int64(v)
	m.next++
	if m.next == len(m.vals) {
		m.next = 0
		m.full = true
	}
}

func (m *movingAverage) count() int {
	if m.full {
		return len(m.vals)
	}
	return m.next
}

func (m *movingAverage) mean() (float64, bool) {
	n := m.count()
	if n == 0 {
		return 0, false
	}
	return float64(m.sum) / float64(n), true
}

func (m *movingAverage) reset() {
	m.next = 0
	m.full = false
	m.sum = 0
}
