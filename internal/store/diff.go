package store

import (
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// Delta is what changed between two snapshots.
type Delta struct {
	// Samples are window samples newer than the previous snapshot's newest.
	Samples []ecg.Sample

	// BPM are history entries newer than the previous snapshot's newest.
	BPM []ecg.BPMSample

	// Opened are flags that started after prev, including flags that have
	// already closed again by next.
	Opened []ecg.EventFlag

	// Closed are flags that ended after prev.
	Closed []ecg.EventFlag

	// Ended are the flags still open in prev when next belongs to a new
	// session. A reset discards them, so they are closed at the instant the
	// new session was published. They belong to EndedSession.
	Ended        []ecg.EventFlag
	EndedSession string

	StatusChanged bool
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Samples) == 0 && len(d.BPM) == 0 &&
		len(d.Opened) == 0 && len(d.Closed) == 0 && len(d.Ended) == 0 && !d.StatusChanged
}

// Diff compares next against prev. A nil prev treats everything in next as
// new. Samples and BPM entries are matched by timestamp and flags by ID, so
// the result is correct however many snapshots were skipped in between, as
// long as the entries are still retained by next.
//
// When next starts a new session, prev's active flags are reported in
// Ended and everything retained by next counts as new.
func Diff(prev, next *ecg.Snapshot) Delta {
	if next == nil {
		return Delta{}
	}
	if prev == nil {
		prev = &ecg.Snapshot{}
	}

	d := Delta{StatusChanged: prev.Status != next.Status}

	if prev.SessionID != "" && next.SessionID != prev.SessionID {
		at := resetInstant(prev, next)
		for _, f := range prev.ActiveFlags {
			end := at
			if end.Before(f.Onset) {
				end = f.Onset
			}
			d.Ended = append(d.Ended, f.Closed(end))
		}
		if len(d.Ended) > 0 {
			d.EndedSession = prev.SessionID
		}
		prev = &ecg.Snapshot{}
	}

	from := 0
	if last, ok := prev.Window.Last(); ok {
		from = next.Window.Search(func(s ecg.Sample) bool { return s.Timestamp.After(last.Timestamp) })
	}
	d.Samples = next.Window.Slice(from, next.Window.Len())

	from = 0
	if last, ok := prev.BPMHistory.Last(); ok {
		from = next.BPMHistory.Search(func(b ecg.BPMSample) bool { return b.Timestamp.After(last.Timestamp) })
	}
	d.BPM = next.BPMHistory.Slice(from, next.BPMHistory.Len())

	seen := make(map[string]bool, len(prev.ActiveFlags)+len(prev.RecentFlags))
	for _, f := range prev.ActiveFlags {
		seen[f.ID] = true
	}
	wasClosed := make(map[string]bool, len(prev.RecentFlags))
	for _, f := range prev.RecentFlags {
		seen[f.ID] = true
		wasClosed[f.ID] = true
	}

	for _, f := range next.RecentFlags {
		if wasClosed[f.ID] {
			continue
		}
		if !seen[f.ID] {
			d.Opened = append(d.Opened, f)
		}
		d.Closed = append(d.Closed, f)
	}
	for _, f := range next.ActiveFlags {
		if !seen[f.ID] {
			d.Opened = append(d.Opened, f)
		}
	}

	return d
}

// resetInstant is when the session that produced next began. Snapshots
// that were never published through a store fall back to prev's newest
// sample.
func resetInstant(prev, next *ecg.Snapshot) time.Time {
	if !next.PublishedAt.IsZero() {
		return next.PublishedAt
	}
	if last, ok := prev.Window.Last(); ok {
		return last.Timestamp
	}
	return prev.PublishedAt
}
