package source

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// Episode alters the simulated signal for a span of time, measured from the
// first generated sample. Episodes make fault and arrhythmia scenarios
// reproducible in tests and demos.
type Episode struct {
	Start    time.Duration
	Duration time.Duration

	// Flatline suppresses every beat while active.
	Flatline bool

	// Artifact adds an alternating ±Artifact/2 component on every sample,
	// producing steep sample-to-sample jumps.
	Artifact int

	// BPM overrides the heart rate while active when positive.
	BPM float64
}

func (e Episode) covers(offset time.Duration) bool {
	return offset >= e.Start && offset < e.Start+e.Duration
}

// SimulatorConfig parameterises the synthetic waveform.
type SimulatorConfig struct {
	// Rate is the sample rate in Hz; timestamps advance by 1/Rate per call.
	Rate int

	// BPM is the heart rate of the quasi-periodic waveform.
	BPM float64

	// Baseline is the resting amplitude.
	Baseline int

	// RAmplitude is the height of the R wave above the baseline.
	RAmplitude int

	// Noise is the half-width of uniform noise added to every sample.
	Noise int

	// Wander is the amplitude of a slow sinusoidal baseline drift at WanderHz.
	Wander   int
	WanderHz float64

	// Seed makes the noise sequence reproducible.
	Seed uint64

	// Start is the timestamp of the first sample. Zero means time.Now at
	// the first call to Next.
	Start time.Time

	Episodes []Episode
}

// DefaultSimulatorConfig returns a 72 bpm waveform sampled at 250 Hz.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Rate:       250,
		BPM:        72,
		Baseline:   10000,
		RAmplitude: 7000,
		Noise:      200,
		Wander:     300,
		WanderHz:   0.25,
		Seed:       1,
	}
}

// Simulator generates a synthetic ECG-like waveform: P, QRS and T waves
// shaped as gaussians on a drifting baseline, plus seeded uniform noise.
// It never faults. Time is virtual: the n-th sample is stamped
// Start + n/Rate regardless of how fast Next is called.
type Simulator struct {
	cfg    SimulatorConfig
	rng    *rand.Rand
	period time.Duration
	n      int64
	phase  float64
}

// NewSimulator builds a simulator; zero fields in cfg take the defaults of
// [DefaultSimulatorConfig] (Noise, Wander and Seed excepted, where zero is
// meaningful).
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.BPM <= 0 {
		cfg.BPM = def.BPM
	}
	if cfg.Baseline == 0 {
		cfg.Baseline = def.Baseline
	}
	if cfg.RAmplitude == 0 {
		cfg.RAmplitude = def.RAmplitude
	}
	if cfg.WanderHz <= 0 {
		cfg.WanderHz = def.WanderHz
	}
	return &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		period: time.Second / time.Duration(cfg.Rate),
	}
}

// Next returns the next synthetic sample.
func (s *Simulator) Next(ctx context.Context) (ecg.Sample, error) {
	if err := ctx.Err(); err != nil {
		return ecg.Sample{}, err
	}

	if s.cfg.Start.IsZero() {
		s.cfg.Start = time.Now()
	}
	offset := time.Duration(s.n) * s.period
	ts := s.cfg.Start.Add(offset)

	bpm := s.cfg.BPM
	flat := false
	artifact := 0
	for _, ep := range s.cfg.Episodes {
		if !ep.covers(offset) {
			continue
		}
		if ep.BPM > 0 {
			bpm = ep.BPM
		}
		flat = flat || ep.Flatline
		artifact += ep.Artifact
	}

	v := float64(s.cfg.Baseline)
	v += float64(s.cfg.Wander) * math.Sin(2*math.Pi*s.cfg.WanderHz*offset.Seconds())
	if !flat {
		v += s.beat(s.phase*60/bpm) * float64(s.cfg.RAmplitude)
	}
	if s.cfg.Noise > 0 {
		v += float64(s.rng.IntN(2*s.cfg.Noise+1) - s.cfg.Noise)
	}
	if artifact > 0 {
		half := float64(artifact) / 2
		if s.n%2 == 0 {
			v += half
		} else {
			v -= half
		}
	}

	s.phase += bpm / 60 / float64(s.cfg.Rate)
	if s.phase >= 1 {
		s.phase -= math.Floor(s.phase)
	}
	s.n++

	return ecg.Sample{Timestamp: ts, Amplitude: int(math.Round(v))}, nil
}

// beat evaluates one PQRST complex at tau seconds into the cycle, normalised
// so the R wave peaks at 1.
func (s *Simulator) beat(tau float64) float64 {
	const r = 0.25
	return 0.08*gauss(tau, r-0.12, 0.025) +
		-0.12*gauss(tau, r-0.02, 0.010) +
		1.00*gauss(tau, r, 0.012) +
		-0.25*gauss(tau, r+0.025, 0.012) +
		0.25*gauss(tau, r+0.20, 0.040)
}

// Info reports the simulator as a synthetic source.
func (s *Simulator) Info() Info {
	return Info{Name: "simulator", Simulating: true}
}

// Close is a no-op.
func (s *Simulator) Close() error { return nil }

// Period returns the virtual time between consecutive samples.
func (s *Simulator) Period() time.Duration { return s.period }

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

var _ Source = (*Simulator)(nil)
