package store

import "github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"

// Store defines the interface for publishing and reading pipeline snapshots.
//
// Store implementations must be safe for concurrent access by one publisher
// and any number of readers and subscribers.
type Store interface {
	// Publish makes snap the latest snapshot and notifies all subscribers.
	// The store assigns the version; snap must not be modified afterwards.
	Publish(snap *ecg.Snapshot)

	// Latest returns the most recently published snapshot. It never returns
	// nil: before the first publish it returns an empty version 0 snapshot.
	Latest() *ecg.Snapshot

	// Subscribe returns a channel that receives every published snapshot.
	// The channel has a buffer; slow consumers may miss snapshots.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan *ecg.Snapshot

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan *ecg.Snapshot)
}
