package acquisition

import (
	"github.com/google/uuid"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/classifier"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/detector"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/rhythm"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
)

// Step is the outcome of running one sample through the pipeline.
type Step struct {
	Sample    ecg.Sample
	Detection detector.Result

	// Beat is set when the sample produced a peak that closed an interval.
	Beat *rhythm.Beat

	Changes []classifier.Change
}

// Processor runs the detector, tracker and classifier synchronously over one
// sample at a time and assembles snapshots of the result. It has no notion
// of time other than sample timestamps, so it can be driven by the live loop
// or by an offline run over simulated data.
//
// A Processor must only be used by one goroutine.
type Processor struct {
	params Params

	buf        *ringbuf.Buffer[ecg.Sample]
	detector   *detector.Detector
	tracker    *rhythm.Tracker
	classifier *classifier.Classifier

	sessionID    string
	lowAmplitude bool
}

// NewProcessor validates params and builds the pipeline stages.
func NewProcessor(params Params) (*Processor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	det, err := detector.New(params.DetectorConfig())
	if err != nil {
		return nil, err
	}
	tr, err := rhythm.New(params.RhythmConfig())
	if err != nil {
		return nil, err
	}
	cls, err := classifier.New(params.ClassifierConfig())
	if err != nil {
		return nil, err
	}
	return &Processor{
		params:     params,
		buf:        ringbuf.New[ecg.Sample](params.BufferCapacity()),
		detector:   det,
		tracker:    tr,
		classifier: cls,
		sessionID:  uuid.NewString(),
	}, nil
}

// Process clips s, appends it to the buffer and runs every stage over it.
// A sample whose timestamp does not advance past the newest buffered sample
// is dropped and Process returns false.
func (p *Processor) Process(s ecg.Sample) (Step, bool) {
	s = s.Clip(p.params.ClipLow, p.params.ClipHigh)
	if last, ok := p.buf.Last(); ok && !s.Timestamp.After(last.Timestamp) {
		return Step{}, false
	}
	p.buf.Push(s)

	step := Step{Sample: s, Detection: p.detector.Process(s)}
	if peak := step.Detection.Peak; peak != nil {
		if b, ok := p.tracker.Observe(*peak); ok {
			step.Beat = &b
		}
	}
	step.Changes = p.classifier.Evaluate(classifier.Observation{
		Timestamp: s.Timestamp,
		Noisy:     step.Detection.Noisy,
		Baseline:  step.Detection.Baseline,
		Peak:      step.Detection.Peak,
		Beat:      step.Beat,
	})
	p.lowAmplitude = step.Detection.LowAmplitude

	return step, true
}

// Snapshot assembles an immutable snapshot of the current state. The
// returned value shares buffer chunks and flag slices with the processor,
// none of which are ever written again.
func (p *Processor) Snapshot(status ecg.SourceStatus) *ecg.Snapshot {
	status.LowAmplitude = p.lowAmplitude

	snap := &ecg.Snapshot{
		SessionID:   p.sessionID,
		Window:      p.buf.View(),
		BPMHistory:  p.tracker.BPMView(),
		RRHistory:   p.tracker.RRView(),
		ActiveFlags: orEmpty(p.classifier.Active()),
		RecentFlags: orEmpty(p.classifier.Recent()),
		Counts:      p.classifier.Counts(),
		CurrentBPM:  p.tracker.CurrentBPM(),
		Status:      status,
	}
	if peak, ok := p.tracker.LastPeak(); ok {
		snap.LastPeak = &peak
	}
	return snap
}

// Reset clears every stage and starts a new session.
func (p *Processor) Reset() {
	p.buf.Reset()
	p.detector.Reset()
	p.tracker.Reset()
	p.classifier.Reset()
	p.lowAmplitude = false
	p.sessionID = uuid.NewString()
}

// SessionID identifies the data since construction or the last reset.
func (p *Processor) SessionID() string { return p.sessionID }

// Params returns the parameters the processor was built with.
func (p *Processor) Params() Params { return p.params }

func orEmpty(flags []ecg.EventFlag) []ecg.EventFlag {
	if flags == nil {
		return []ecg.EventFlag{}
	}
	return flags
}
