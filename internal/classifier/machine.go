package classifier

import (
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

type transition int

const (
	unchanged transition = iota
	opened
	closed
)

// machine is the two-state hysteresis automaton of one event kind.
type machine struct {
	kind ecg.EventKind
	hold time.Duration

	active bool
	flag   ecg.EventFlag

	clearing   bool
	clearSince time.Time
}

// step feeds the condition observed at now. An active machine closes once
// the condition has been false for at least hold; the clear timer restarts
// whenever the condition returns.
func (m *machine) step(now time.Time, cond bool) transition {
	if !m.active {
		if cond {
			m.active = true
			m.clearing = false
			return opened
		}
		return unchanged
	}

	if cond {
		m.clearing = false
		return unchanged
	}
	if !m.clearing {
		m.clearing = true
		m.clearSince = now
	}
	if now.Sub(m.clearSince) >= m.hold {
		m.active = false
		m.clearing = false
		return closed
	}
	return unchanged
}
