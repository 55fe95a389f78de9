package acquisition

import (
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// Recorder receives instrumentation events from the loop. Implementations
// must be cheap and must not block; they are called on the producer's
// goroutine.
type Recorder interface {
	SampleProcessed()
	PeakDetected()
	SourceFault()
	FlagOpened(kind ecg.EventKind)
	TickDuration(d time.Duration)
	Published(snap *ecg.Snapshot)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) SampleProcessed() {}
func (NopRecorder) PeakDetected() {}
func (NopRecorder) SourceFault() {}
func (NopRecorder) FlagOpened(ecg.EventKind) {}
func (NopRecorder) TickDuration(time.Duration) {}
func (NopRecorder) Published(*ecg.Snapshot) {}
