// Package rhythm turns accepted R-peaks into RR intervals and instantaneous
// heart rate, and keeps bounded histories of both.
package rhythm

import (
	"errors"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
)

// Config bounds the histories and sets the premature/pause ratios.
type Config struct {
	// MinRR rejects intervals shorter than a physiologically plausible beat.
	MinRR time.Duration

	BPMMaxLen int
	RRMaxLen  int

	// AvgBeats is how many previous intervals form the reference average.
	AvgBeats int

	// An interval is premature below PrematureShort times the average and a
	// pause above PrematureLong times the average.
	PrematureShort float64
	PrematureLong  float64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.MinRR <= 0 {
		errs = append(errs, errors.New("min rr must be positive"))
	}
	if c.BPMMaxLen <= 0 {
		errs = append(errs, errors.New("bpm history length must be positive"))
	}
	if c.RRMaxLen <= 0 {
		errs = append(errs, errors.New("rr history length must be positive"))
	}
	if c.AvgBeats <= 0 || c.AvgBeats > c.RRMaxLen {
		errs = append(errs, errors.New("rr average beats must be between 1 and the rr history length"))
	}
	if c.PrematureShort <= 0 || c.PrematureShort >= 1 {
		errs = append(errs, errors.New("premature short ratio must be in (0, 1)"))
	}
	if c.PrematureLong <= 1 {
		errs = append(errs, errors.New("premature long ratio must be greater than 1"))
	}
	return errors.Join(errs...)
}

// Beat is the outcome of one accepted peak that closed an interval.
type Beat struct {
	Peak ecg.RPeak
	RR   ecg.RRInterval
	BPM  ecg.BPMSample

	// AvgRR is the mean of the intervals before this one; zero when there
	// was no history.
	AvgRR time.Duration

	Premature bool
	Pause     bool
}

// Tracker is owned by the acquisition loop and is not safe for concurrent
// use. Views it hands out are immutable and may be shared freely.
type Tracker struct {
	cfg Config

	bpm *ringbuf.Buffer[ecg.BPMSample]
	rr  *ringbuf.Buffer[ecg.RRInterval]

	last    ecg.RPeak
	hasLast bool
	current float64
}

// New creates a tracker.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg: cfg,
		bpm: ringbuf.New[ecg.BPMSample](cfg.BPMMaxLen),
		rr:  ringbuf.New[ecg.RRInterval](cfg.RRMaxLen),
	}, nil
}

// Observe records a peak. The first peak only starts the chain and returns
// false. An interval shorter than MinRR is discarded without moving the
// previous peak, and also returns false.
func (t *Tracker) Observe(p ecg.RPeak) (Beat, bool) {
	if !t.hasLast {
		t.last = p
		t.hasLast = true
		return Beat{}, false
	}

	d := p.Timestamp.Sub(t.last.Timestamp)
	if d < t.cfg.MinRR {
		return Beat{}, false
	}

	b := Beat{
		Peak:  p,
		RR:    ecg.RRInterval{Timestamp: p.Timestamp, Duration: d},
		BPM:   ecg.BPMSample{Timestamp: p.Timestamp, BPM: ecg.BPMFromRR(d)},
		AvgRR: t.averageRR(),
	}
	if b.AvgRR > 0 {
		b.Premature = d < scale(b.AvgRR, t.cfg.PrematureShort)
		b.Pause = d > scale(b.AvgRR, t.cfg.PrematureLong)
	}

	t.rr.Push(b.RR)
	t.bpm.Push(b.BPM)
	t.last = p
	t.current = b.BPM.BPM

	return b, true
}

func (t *Tracker) averageRR() time.Duration {
	recent := t.rr.View().Tail(t.cfg.AvgBeats)
	if len(recent) == 0 {
		return 0
	}
	var sum time.Duration
	for _, r := range recent {
		sum += r.Duration
	}
	return sum / time.Duration(len(recent))
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

// LastPeak returns the most recent peak that was accepted into the chain.
func (t *Tracker) LastPeak() (ecg.RPeak, bool) {
	return t.last, t.hasLast
}

// CurrentBPM is the rate of the most recent interval, or 0 before the first.
func (t *Tracker) CurrentBPM() float64 { return t.current }

// BPMView returns an immutable view of the BPM history, oldest first.
func (t *Tracker) BPMView() ringbuf.View[ecg.BPMSample] { return t.bpm.View() }

// RRView returns an immutable view of the RR history, oldest first.
func (t *Tracker) RRView() ringbuf.View[ecg.RRInterval] { return t.rr.View() }

// Reset forgets every peak and interval. Views taken earlier are unaffected.
func (t *Tracker) Reset() {
	t.bpm.Reset()
	t.rr.Reset()
	t.last = ecg.RPeak{}
	t.hasLast = false
	t.current = 0
}
