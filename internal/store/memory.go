package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// subscriberBuffer is the channel capacity of each subscription.
const subscriberBuffer = 100

// SnapshotStore is the in-memory implementation of [Store].
//
// The latest snapshot lives behind an atomic pointer: Publish swaps it in a
// single store and Latest loads it, so neither side ever takes a lock on the
// hot path. Subscribers receive updates via buffered channels (buffer size
// 100). Updates are sent non-blocking; if a subscriber's buffer is full, the
// update is dropped for that subscriber.
type SnapshotStore struct {
	latest  atomic.Pointer[ecg.Snapshot]
	version atomic.Uint64

	subscribers map[chan *ecg.Snapshot]struct{}
	subMu       sync.RWMutex
}

// NewSnapshotStore creates a store holding an empty snapshot for sessionID.
func NewSnapshotStore(sessionID string) *SnapshotStore {
	s := &SnapshotStore{
		subscribers: make(map[chan *ecg.Snapshot]struct{}),
	}
	s.latest.Store(&ecg.Snapshot{
		SessionID:   sessionID,
		PublishedAt: time.Now(),
		ActiveFlags: []ecg.EventFlag{},
		RecentFlags: []ecg.EventFlag{},
		Counts:      map[ecg.EventKind]int{},
		Status:      ecg.SourceStatus{State: ecg.StateIdle},
	})
	return s
}

// Publish assigns the next version to snap, makes it the latest snapshot and
// notifies all subscribers.
func (s *SnapshotStore) Publish(snap *ecg.Snapshot) {
	snap.Version = s.version.Add(1)
	if snap.PublishedAt.IsZero() {
		snap.PublishedAt = time.Now()
	}
	s.latest.Store(snap)

	s.notifySubscribers(snap)
}

// Latest returns the most recently published snapshot.
func (s *SnapshotStore) Latest() *ecg.Snapshot {
	return s.latest.Load()
}

// Subscribe creates a new subscription and returns a channel for receiving
// snapshots.
//
// Caller must call [SnapshotStore.Unsubscribe] when done to prevent resource
// leaks.
func (s *SnapshotStore) Subscribe() <-chan *ecg.Snapshot {
	ch := make(chan *ecg.Snapshot, subscriberBuffer)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (s *SnapshotStore) Unsubscribe(ch <-chan *ecg.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for subCh := range s.subscribers {
		if subCh == ch {
			delete(s.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the snapshot to all active subscribers without
// blocking.
func (s *SnapshotStore) notifySubscribers(snap *ecg.Snapshot) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// subscriber is slow, drop the snapshot
		}
	}
}

var _ Store = (*SnapshotStore)(nil)
