// Package detector finds R-peaks in a stream of ECG samples.
//
// The detector keeps a moving-average baseline over the preceding samples and
// compares the baseline-corrected amplitude against a fixed threshold. A
// refractory period equal to the minimum plausible RR interval stops one QRS
// complex from producing several peaks. Sample-to-sample jumps above the noise
// threshold mark a sample as noisy, and noisy samples never produce a peak.
package detector

import (
	"errors"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
)

// Config holds the detection parameters.
type Config struct {
	// SampleRate is used to size the baseline window in samples.
	SampleRate int

	// RThreshold is compared against amplitude minus baseline.
	RThreshold float64

	BaselineWindow time.Duration

	// NoiseWindow is the span over which peak-to-peak amplitude is measured
	// for the low-amplitude check.
	NoiseWindow time.Duration

	// NoiseDerivThreshold is the largest absolute sample-to-sample change
	// that is not treated as noise.
	NoiseDerivThreshold int

	// LowAmplitude is the peak-to-peak amplitude below which the signal is
	// reported as low. Zero disables the check.
	LowAmplitude int

	// MinRR is the refractory period after an accepted peak.
	MinRR time.Duration
}

// Validate checks that the configuration can drive a detector.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("sample rate must be positive"))
	}
	if c.RThreshold <= 0 {
		errs = append(errs, errors.New("r threshold must be positive"))
	}
	if c.BaselineWindow <= 0 {
		errs = append(errs, errors.New("baseline window must be positive"))
	}
	if c.NoiseWindow <= 0 {
		errs = append(errs, errors.New("noise window must be positive"))
	}
	if c.NoiseDerivThreshold <= 0 {
		errs = append(errs, errors.New("noise derivative threshold must be positive"))
	}
	if c.LowAmplitude < 0 {
		errs = append(errs, errors.New("low amplitude must not be negative"))
	}
	if c.MinRR <= 0 {
		errs = append(errs, errors.New("min rr must be positive"))
	}
	return errors.Join(errs...)
}

// Result describes what the detector saw in one sample.
type Result struct {
	Sample ecg.Sample

	// Baseline is the moving average of the samples before this one.
	Baseline float64

	// Corrected is Sample.Amplitude minus Baseline.
	Corrected float64

	// Deriv is the change from the previous sample; 0 for the first.
	Deriv int

	Noisy        bool
	LowAmplitude bool

	// Peak is set when this sample was accepted as an R-peak.
	Peak *ecg.RPeak
}

// Detector is not safe for concurrent use; the acquisition loop owns it.
type Detector struct {
	cfg Config

	baseline *movingAverage
	spread   *ringbuf.Extrema

	prev     int
	hasPrev  bool
	lastPeak time.Time
	hasPeak  bool
}

// New creates a detector. The configuration must pass [Config.Validate].
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := int(cfg.BaselineWindow.Seconds() * float64(cfg.SampleRate))
	if n < 1 {
		n = 1
	}
	return &Detector{
		cfg:      cfg,
		baseline: newMovingAverage(n),
		spread:   ringbuf.NewExtrema(cfg.NoiseWindow),
	}, nil
}

// Process evaluates one sample. Samples must arrive in timestamp order.
func (d *Detector) Process(s ecg.Sample) Result {
	r := Result{Sample: s}

	if mean, ok := d.baseline.mean(); ok {
		r.Baseline = mean
	} else {
		r.Baseline = float64(s.Amplitude)
	}
	r.Corrected = float64(s.Amplitude) - r.Baseline

	if d.hasPrev {
		r.Deriv = s.Amplitude - d.prev
	}
	r.Noisy = abs(r.Deriv) > d.cfg.NoiseDerivThreshold

	d.spread.Push(s.Timestamp, float64(s.Amplitude))
	if d.cfg.LowAmplitude > 0 && d.spread.Covers(s.Timestamp) {
		r.LowAmplitude = d.spread.Spread() < float64(d.cfg.LowAmplitude)
	}

	if !r.Noisy && r.Corrected > d.cfg.RThreshold && d.outsideRefractory(s.Timestamp) {
		r.Peak = &ecg.RPeak{Timestamp: s.Timestamp, Amplitude: s.Amplitude}
		d.lastPeak = s.Timestamp
		d.hasPeak = true
	}

	d.baseline.push(s.Amplitude)
	d.prev = s.Amplitude
	d.hasPrev = true

	return r
}

func (d *Detector) outsideRefractory(ts time.Time) bool {
	return !d.hasPeak || ts.Sub(d.lastPeak) >= d.cfg.MinRR
}

// Reset clears the baseline, the refractory state and the amplitude window.
func (d *Detector) Reset() {
	d.baseline.reset()
	d.spread.Reset()
	d.prev = 0
	d.hasPrev = false
	d.lastPeak = time.Time{}
	d.hasPeak = false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
