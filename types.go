package pulseecg

import (
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/acquisition"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/publish"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/source"
)

// Data model. These are aliases of the pipeline's own types so values flow
// between the monitor and its internals without conversion.
type (
	// Sample is one timestamped ADC reading.
	Sample = ecg.Sample

	// RPeak is a detected ventricular depolarization.
	RPeak = ecg.RPeak

	// BPMSample is one instantaneous heart-rate value, stamped at the peak
	// that closed its RR interval.
	BPMSample = ecg.BPMSample

	// EventKind names a class of cardiac event.
	EventKind = ecg.EventKind

	// Severity grades an event kind.
	Severity = ecg.Severity

	// EventFlag is one episode of an event kind. Offset is nil while active.
	EventFlag = ecg.EventFlag

	// EventWindow is a closed flag plus the samples buffered during it.
	EventWindow = ecg.EventWindow

	// SourceState is the lifecycle state of acquisition.
	SourceState = ecg.SourceState

	// SourceStatus is what the health check reports about the source.
	SourceStatus = ecg.SourceStatus

	// Snapshot is an immutable, versioned view of the whole pipeline.
	Snapshot = ecg.Snapshot

	// Params is the validated threshold and sizing set of the pipeline.
	Params = acquisition.Params

	// Source produces samples. Implement it to feed the monitor from a
	// device not supported out of the box.
	Source = source.Source

	// SourceInfo describes a Source for status reporting.
	SourceInfo = source.Info

	// SimulatorConfig shapes the synthetic waveform.
	SimulatorConfig = source.SimulatorConfig

	// Episode injects a flatline, artifact burst or rate change into the
	// simulated waveform.
	Episode = source.Episode

	// NATSConn is the subset of *nats.Conn the monitor publishes with.
	NATSConn = publish.Conn
)

// Event kinds.
const (
	Asystole       = ecg.Asystole
	Bradycardia    = ecg.Bradycardia
	Tachycardia    = ecg.Tachycardia
	VTachSuspected = ecg.VTachSuspected
	Premature      = ecg.Premature
	Noise          = ecg.Noise
	BaselineWander = ecg.BaselineWander
)

// Source states.
const (
	StateIdle     = ecg.StateIdle
	StateRunning  = ecg.StateRunning
	StateDegraded = ecg.StateDegraded
	StateStopped  = ecg.StateStopped
)

// DefaultParams returns the parameters used when [WithParams] is not given.
func DefaultParams() Params {
	return acquisition.DefaultParams()
}

// DefaultSimulatorConfig returns a clean 72 bpm waveform at 250 Hz.
func DefaultSimulatorConfig() SimulatorConfig {
	return source.DefaultSimulatorConfig()
}

// FlagChange is delivered to flag callbacks when a flag opens or closes.
type FlagChange struct {
	// SessionID identifies the session the flag belongs to; it changes on
	// every reset.
	SessionID string

	// Flag is the flag as of the change. For a close, Offset is set.
	Flag EventFlag

	// Opened is true for an onset and false for an offset.
	Opened bool
}
