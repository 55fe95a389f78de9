package acquisition

import (
	"errors"
	"fmt"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/classifier"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/detector"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/rhythm"
)

// Params is the complete, strongly typed parameter set of the pipeline.
// It is validated once before the producer starts and never changes after.
type Params struct {
	SampleRate   int
	BufferWindow time.Duration
	ClipLow      int
	ClipHigh     int

	// BackoffMax caps the wait between retries of a faulting source.
	BackoffMax time.Duration

	RThreshold          float64
	BaselineWindow      time.Duration
	NoiseWindow         time.Duration
	NoiseDerivThreshold int
	LowAmplitude        int
	MinRR               time.Duration

	BPMMaxLen      int
	RRMaxLen       int
	RRAvgBeats     int
	PrematureShort float64
	PrematureLong  float64

	AsystoleAfter   time.Duration
	BradyBPM        float64
	TachyBPM        float64
	VTachBPM        float64
	WanderWindow    time.Duration
	WanderThreshold float64
	Stabilize       time.Duration
	FlagRetention   time.Duration
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		SampleRate:   250,
		BufferWindow: 120 * time.Second,
		ClipLow:      -32768,
		ClipHigh:     32767,
		BackoffMax:   time.Second,

		RThreshold:          4000,
		BaselineWindow:      2 * time.Second,
		NoiseWindow:         500 * time.Millisecond,
		NoiseDerivThreshold: 3000,
		LowAmplitude:        200,
		MinRR:               250 * time.Millisecond,

		BPMMaxLen:      1200,
		RRMaxLen:       60,
		RRAvgBeats:     8,
		PrematureShort: 0.8,
		PrematureLong:  1.5,

		AsystoleAfter:   3500 * time.Millisecond,
		BradyBPM:        50,
		TachyBPM:        100,
		VTachBPM:        150,
		WanderWindow:    8 * time.Second,
		WanderThreshold: 2000,
		Stabilize:       2 * time.Second,
		FlagRetention:   60 * time.Second,
	}
}

// BufferCapacity is the number of samples kept in the ring buffer.
func (p Params) BufferCapacity() int {
	return int(float64(p.SampleRate) * p.BufferWindow.Seconds())
}

// Period is the nominal time between two samples.
func (p Params) Period() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(p.SampleRate)
}

// DetectorConfig extracts the R-peak detector parameters.
func (p Params) DetectorConfig() detector.Config {
	return detector.Config{
		SampleRate:          p.SampleRate,
		RThreshold:          p.RThreshold,
		BaselineWindow:      p.BaselineWindow,
		NoiseWindow:         p.NoiseWindow,
		NoiseDerivThreshold: p.NoiseDerivThreshold,
		LowAmplitude:        p.LowAmplitude,
		MinRR:               p.MinRR,
	}
}

// RhythmConfig extracts the RR/BPM tracker parameters.
func (p Params) RhythmConfig() rhythm.Config {
	return rhythm.Config{
		MinRR:          p.MinRR,
		BPMMaxLen:      p.BPMMaxLen,
		RRMaxLen:       p.RRMaxLen,
		AvgBeats:       p.RRAvgBeats,
		PrematureShort: p.PrematureShort,
		PrematureLong:  p.PrematureLong,
	}
}

// ClassifierConfig extracts the event classifier parameters. Noise flags
// clear after one noise window of clean signal.
func (p Params) ClassifierConfig() classifier.Config {
	return classifier.Config{
		AsystoleAfter:   p.AsystoleAfter,
		BradyBPM:        p.BradyBPM,
		TachyBPM:        p.TachyBPM,
		VTachBPM:        p.VTachBPM,
		WanderWindow:    p.WanderWindow,
		WanderThreshold: p.WanderThreshold,
		Stabilize:       p.Stabilize,
		NoiseClear:      p.NoiseWindow,
		Retention:       p.FlagRetention,
	}
}

// Validate reports every invalid or inconsistent parameter at once.
func (p Params) Validate() error {
	var errs []error
	if p.SampleRate <= 0 || p.SampleRate > 10000 {
		errs = append(errs, fmt.Errorf("sample rate %d out of range (1-10000)", p.SampleRate))
	}
	if p.BufferWindow <= 0 {
		errs = append(errs, errors.New("buffer window must be positive"))
	} else if p.SampleRate > 0 && p.BufferCapacity() < 1 {
		errs = append(errs, errors.New("buffer window holds no samples at this rate"))
	}
	if p.ClipLow >= p.ClipHigh {
		errs = append(errs, fmt.Errorf("clip low %d must be below clip high %d", p.ClipLow, p.ClipHigh))
	}
	if p.BackoffMax <= 0 {
		errs = append(errs, errors.New("backoff max must be positive"))
	}
	if p.AsystoleAfter > 0 && p.MinRR > 0 && p.AsystoleAfter <= p.MinRR {
		errs = append(errs, errors.New("asystole duration must exceed min rr"))
	}

	if err := p.DetectorConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := p.RhythmConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rhythm: %w", err))
	}
	if err := p.ClassifierConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classifier: %w", err))
	}
	return errors.Join(errs...)
}
