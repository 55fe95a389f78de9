package ecg

import (
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
)

// SourceState is the lifecycle state of the acquisition producer.
type SourceState string

const (
	// StateIdle means sampling has not started yet.
	StateIdle SourceState = "idle"
	// StateRunning means samples are flowing normally.
	StateRunning SourceState = "running"
	// StateDegraded means the last read failed and the producer is backing off.
	StateDegraded SourceState = "degraded"
	// StateStopped means the producer halted and released its source.
	StateStopped SourceState = "stopped"
)

// SourceStatus describes the sample source as seen by readers.
type SourceStatus struct {
	State        SourceState `json:"state"`
	Simulating   bool        `json:"simulating"`
	HardwareOK   bool        `json:"hardware_ok"`
	Sampling     bool        `json:"sampling"`
	LowAmplitude bool        `json:"low_amplitude"`
	Faults       uint64      `json:"faults"`
	LastFault    string      `json:"last_fault,omitempty"`
}

// Snapshot is the immutable, versioned bundle exchanged between the single
// producer and any number of readers. A Snapshot is never modified after it
// has been published; readers may hold on to it indefinitely.
type Snapshot struct {
	Version     uint64                   `json:"version"`
	SessionID   string                   `json:"session_id"`
	PublishedAt time.Time                `json:"published_at"`
	Window      ringbuf.View[Sample]     `json:"window"`
	BPMHistory  ringbuf.View[BPMSample]  `json:"bpm_history"`
	RRHistory   ringbuf.View[RRInterval] `json:"rr_history"`
	ActiveFlags []EventFlag              `json:"active_flags"`
	RecentFlags []EventFlag              `json:"recent_flags"`
	Counts      map[EventKind]int        `json:"counts"`
	CurrentBPM  float64                  `json:"current_bpm"`
	LastPeak    *RPeak                   `json:"last_peak,omitempty"`
	Status      SourceStatus             `json:"status"`
}

// ActiveKinds returns the kinds of the currently open flags.
func (s *Snapshot) ActiveKinds() []EventKind {
	kinds := make([]EventKind, 0, len(s.ActiveFlags))
	for _, f := range s.ActiveFlags {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

// EventWindow bounds one closed flag together with the buffered samples
// recorded between its onset and offset.
type EventWindow struct {
	Flag    EventFlag `json:"flag"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Samples []Sample  `json:"samples"`
}

// EventWindows returns a window for every retained closed flag, oldest
// first. Samples already evicted from the buffer are simply absent.
func (s *Snapshot) EventWindows() []EventWindow {
	out := make([]EventWindow, 0, len(s.RecentFlags))
	for _, f := range s.RecentFlags {
		if f.Offset == nil {
			continue
		}
		start, end := f.Onset, *f.Offset
		from := s.Window.Search(func(x Sample) bool { return !x.Timestamp.Before(start) })
		to := s.Window.Search(func(x Sample) bool { return x.Timestamp.After(end) })
		out = append(out, EventWindow{
			Flag:    f,
			Start:   start,
			End:     end,
			Samples: s.Window.Slice(from, to),
		})
	}
	return out
}

// FlagsAt returns the kinds of flags that were open at instant t, considering
// both active and retained closed flags.
func (s *Snapshot) FlagsAt(t time.Time) []EventKind {
	var kinds []EventKind
	for _, f := range s.RecentFlags {
		if !t.Before(f.Onset) && f.Offset != nil && !t.After(*f.Offset) {
			kinds = append(kinds, f.Kind)
		}
	}
	for _, f := range s.ActiveFlags {
		if !t.Before(f.Onset) {
			kinds = append(kinds, f.Kind)
		}
	}
	return kinds
}
