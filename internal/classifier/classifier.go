// Package classifier turns per-sample detector and rhythm observations into
// named event flags.
//
// Every event kind has its own two-state machine (inactive, active). A machine
// opens as soon as its condition holds and closes once the condition has been
// false for that kind's hold period; while a flag of a kind is open no second
// flag of the same kind can start. Closed flags stay visible for the retention
// period and are then dropped.
//
// The classifier never fails: without enough history a condition is simply
// false.
package classifier

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/rhythm"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
)

// Config holds the thresholds and hold periods of the state machines.
type Config struct {
	// AsystoleAfter is the silence since the last R-peak that opens an
	// asystole flag.
	AsystoleAfter time.Duration

	BradyBPM float64
	TachyBPM float64
	VTachBPM float64

	// WanderWindow is the span over which the baseline range is measured.
	WanderWindow    time.Duration
	WanderThreshold float64

	// Stabilize is how long a rate or wander condition must stay false
	// before its flag closes.
	Stabilize time.Duration

	// NoiseClear is how long the signal must stay clean before a noise flag
	// closes.
	NoiseClear time.Duration

	// Retention keeps closed flags visible for this long after their offset.
	Retention time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.AsystoleAfter <= 0 {
		errs = append(errs, errors.New("asystole duration must be positive"))
	}
	if c.BradyBPM <= 0 {
		errs = append(errs, errors.New("bradycardia threshold must be positive"))
	}
	if c.TachyBPM <= c.BradyBPM {
		errs = append(errs, errors.New("tachycardia threshold must exceed the bradycardia threshold"))
	}
	if c.VTachBPM <= c.TachyBPM {
		errs = append(errs, errors.New("vtach threshold must exceed the tachycardia threshold"))
	}
	if c.WanderWindow <= 0 {
		errs = append(errs, errors.New("wander window must be positive"))
	}
	if c.WanderThreshold <= 0 {
		errs = append(errs, errors.New("wander threshold must be positive"))
	}
	if c.Stabilize < 0 {
		errs = append(errs, errors.New("stabilize period must not be negative"))
	}
	if c.NoiseClear < 0 {
		errs = append(errs, errors.New("noise clear period must not be negative"))
	}
	if c.Retention < 0 {
		errs = append(errs, errors.New("flag retention must not be negative"))
	}
	return errors.Join(errs...)
}

// Observation is everything the classifier needs about one sample.
type Observation struct {
	Timestamp time.Time
	Noisy     bool
	Baseline  float64

	// Peak is set when the detector accepted an R-peak on this sample.
	Peak *ecg.RPeak

	// Beat is set when the peak closed an RR interval.
	Beat *rhythm.Beat
}

// Change is one flag transition produced by Evaluate.
type Change struct {
	Flag   ecg.EventFlag
	Opened bool
}

// Classifier is owned by the acquisition loop and is not safe for concurrent
// use. Slices and maps returned by its accessors are never mutated after
// being returned, so they can be placed directly into a snapshot.
type Classifier struct {
	cfg   Config
	newID func() string

	machines map[ecg.EventKind]*machine
	wander   *ringbuf.Extrema

	lastPeak time.Time
	hasPeak  bool
	bpm      float64
	hasBPM   bool

	active []ecg.EventFlag
	recent []ecg.EventFlag
	counts map[ecg.EventKind]int
}

// New creates a classifier.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		cfg:      cfg,
		newID:    uuid.NewString,
		machines: make(map[ecg.EventKind]*machine, len(ecg.Kinds)),
		wander:   ringbuf.NewExtrema(cfg.WanderWindow),
		counts:   map[ecg.EventKind]int{},
	}
	for _, k := range ecg.Kinds {
		c.machines[k] = &machine{kind: k, hold: c.holdFor(k)}
	}
	return c, nil
}

func (c *Classifier) holdFor(k ecg.EventKind) time.Duration {
	switch k {
	case ecg.Bradycardia, ecg.Tachycardia, ecg.VTachSuspected, ecg.BaselineWander:
		return c.cfg.Stabilize
	case ecg.Noise:
		return c.cfg.NoiseClear
	default:
		// asystole closes on the next peak, premature on the next tick
		return 0
	}
}

// Evaluate advances every state machine by one sample and returns the flags
// that opened or closed, in display order.
func (c *Classifier) Evaluate(o Observation) []Change {
	now := o.Timestamp

	if o.Peak != nil {
		c.lastPeak = o.Peak.Timestamp
		c.hasPeak = true
	}
	if o.Beat != nil {
		c.bpm = o.Beat.BPM.BPM
		c.hasBPM = true
	}
	c.wander.Push(now, o.Baseline)

	var changes []Change
	for _, k := range ecg.Kinds {
		m := c.machines[k]
		switch m.step(now, c.condition(k, now, o)) {
		case opened:
			m.flag = ecg.EventFlag{
				ID:       c.newID(),
				Kind:     k,
				Onset:    now,
				Severity: k.Severity(),
			}
			changes = append(changes, Change{Flag: m.flag, Opened: true})
		case closed:
			f := m.flag.Closed(now)
			m.flag = ecg.EventFlag{}
			changes = append(changes, Change{Flag: f})
		}
	}

	expired := c.prune(now)
	if len(changes) == 0 {
		// retained flags are never written in place, so dropping a prefix
		// by reslicing is safe for snapshots still holding the old slice
		c.recent = c.recent[expired:]
		return nil
	}
	c.apply(changes, expired)
	return changes
}

func (c *Classifier) condition(k ecg.EventKind, now time.Time, o Observation) bool {
	switch k {
	case ecg.Asystole:
		return c.hasPeak && now.Sub(c.lastPeak) >= c.cfg.AsystoleAfter
	case ecg.VTachSuspected:
		return c.hasBPM && c.bpm > c.cfg.VTachBPM
	case ecg.Tachycardia:
		return c.hasBPM && c.bpm > c.cfg.TachyBPM
	case ecg.Bradycardia:
		return c.hasBPM && c.bpm < c.cfg.BradyBPM
	case ecg.Premature:
		return o.Beat != nil && o.Beat.Premature
	case ecg.Noise:
		return o.Noisy
	case ecg.BaselineWander:
		return c.wander.Spread() > c.cfg.WanderThreshold
	}
	return false
}

// prune reports how many retained flags have expired. Flags are retained in
// offset order, so only a prefix can expire.
func (c *Classifier) prune(now time.Time) int {
	cutoff := now.Add(-c.cfg.Retention)
	n := 0
	for n < len(c.recent) && c.recent[n].Offset.Before(cutoff) {
		n++
	}
	return n
}

// apply rebuilds the published slices and counts after transitions. Slices
// and maps already handed out are never written to.
func (c *Classifier) apply(changes []Change, expired int) {
	recent := make([]ecg.EventFlag, 0, len(c.recent)-expired+len(changes))
	recent = append(recent, c.recent[expired:]...)

	var counts map[ecg.EventKind]int
	for _, ch := range changes {
		if !ch.Opened {
			recent = append(recent, ch.Flag)
			continue
		}
		if counts == nil {
			counts = make(map[ecg.EventKind]int, len(c.counts)+1)
			for k, v := range c.counts {
				counts[k] = v
			}
		}
		counts[ch.Flag.Kind]++
	}
	c.recent = recent
	if counts != nil {
		c.counts = counts
	}

	active := make([]ecg.EventFlag, 0, len(ecg.Kinds))
	for _, k := range ecg.Kinds {
		if m := c.machines[k]; m.active {
			active = append(active, m.flag)
		}
	}
	c.active = active
}

// Active returns the open flags in display order.
func (c *Classifier) Active() []ecg.EventFlag { return c.active }

// Recent returns retained closed flags, oldest offset first.
func (c *Classifier) Recent() []ecg.EventFlag { return c.recent }

// Counts returns how many flags of each kind have opened since the last
// reset.
func (c *Classifier) Counts() map[ecg.EventKind]int { return c.counts }

// IsActive reports whether a flag of kind k is open.
func (c *Classifier) IsActive(k ecg.EventKind) bool {
	m, ok := c.machines[k]
	return ok && m.active
}

// Reset discards open and retained flags, counts and the peak and rate
// history without reporting any transition.
func (c *Classifier) Reset() {
	for _, m := range c.machines {
		*m = machine{kind: m.kind, hold: m.hold}
	}
	c.wander.Reset()
	c.lastPeak = time.Time{}
	c.hasPeak = false
	c.bpm = 0
	c.hasBPM = false
	c.active = nil
	c.recent = nil
	c.counts = map[ecg.EventKind]int{}
}
