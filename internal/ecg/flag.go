package ecg

import "time"

// EventKind names a heuristic (non-diagnostic) anomaly category.
type EventKind string

const (
	Asystole       EventKind = "asystole"
	Bradycardia    EventKind = "bradycardia"
	Tachycardia    EventKind = "tachycardia"
	VTachSuspected EventKind = "vtach_suspected"
	Premature      EventKind = "premature"
	Noise          EventKind = "noise"
	BaselineWander EventKind = "baseline_wander"
)

// Kinds lists every event kind in a stable display order.
var Kinds = []EventKind{
	Asystole,
	VTachSuspected,
	Tachycardia,
	Bradycardia,
	Premature,
	Noise,
	BaselineWander,
}

// Label returns the human-readable name used in reports.
func (k EventKind) Label() string {
	switch k {
	case Asystole:
		return "Asystole / Flatline"
	case Bradycardia:
		return "Bradycardia"
	case Tachycardia:
		return "Tachycardia"
	case VTachSuspected:
		return "Ventricular Tachycardia (suspected)"
	case Premature:
		return "Premature Beat"
	case Noise:
		return "Signal Noise"
	case BaselineWander:
		return "Baseline Wander"
	default:
		return string(k)
	}
}

// Severity grades how urgently a flag should be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Severity returns the fixed severity of the kind.
func (k EventKind) Severity() Severity {
	switch k {
	case Asystole, VTachSuspected:
		return SeverityCritical
	case Bradycardia, Tachycardia:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// EventFlag records one episode of an event kind. Offset is nil while the
// episode is still active.
type EventFlag struct {
	ID       string     `json:"id"`
	Kind     EventKind  `json:"kind"`
	Onset    time.Time  `json:"onset"`
	Offset   *time.Time `json:"offset"`
	Severity Severity   `json:"severity"`
}

// Active reports whether the episode is still open.
func (f EventFlag) Active() bool { return f.Offset == nil }

// Closed returns a copy of f with its offset set to at.
func (f EventFlag) Closed(at time.Time) EventFlag {
	f.Offset = &at
	return f
}

// Duration returns the episode length, measured up to now while active.
func (f EventFlag) Duration(now time.Time) time.Duration {
	if f.Offset != nil {
		return f.Offset.Sub(f.Onset)
	}
	return now.Sub(f.Onset)
}
