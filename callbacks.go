package pulseecg

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/store"
)

// dispatchFlags turns the snapshot stream into flag changes until ch is
// closed. Buffered snapshots are still delivered after the close, so the
// changes of the final snapshot reach the callbacks.
func (m *Monitor) dispatchFlags(prev *Snapshot, ch <-chan *Snapshot) {
	for next := range ch {
		d := store.Diff(prev, next)
		prev = next

		for _, f := range d.Ended {
			m.emit(FlagChange{SessionID: d.EndedSession, Flag: f})
		}
		for _, f := range d.Opened {
			// a flag may have opened and closed between two snapshots we saw
			f.Offset = nil
			m.emit(FlagChange{SessionID: next.SessionID, Flag: f, Opened: true})
		}
		for _, f := range d.Closed {
			m.emit(FlagChange{SessionID: next.SessionID, Flag: f})
		}
	}
}

func (m *Monitor) emit(change FlagChange) {
	for _, cb := range m.flagCallbacks {
		invokeCallbackSafe(cb, change, m.logger)
	}
}

// invokeCallbackSafe calls a flag callback with panic recovery.
// Panics are logged with the full stack trace and a correlation ID but do
// not propagate.
func invokeCallbackSafe(cb func(FlagChange), change FlagChange, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("flag callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"kind", change.Flag.Kind,
				"opened", change.Opened,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(change)
}
