// Package store is the single exchange point between the acquisition
// producer and every reader of the pipeline's results.
//
// The main components are:
//
//   - [Store]: interface defining publish, read and subscription operations
//   - [SnapshotStore]: lock-free implementation built on an atomic pointer
//   - [Diff]: computes what changed between two snapshots
//
// Readers call [SnapshotStore.Latest] and always receive a complete snapshot
// from a single publish; they never see a mix of two. Publishing never waits
// for readers. Subscribers receive snapshot pointers via channels with
// non-blocking sends, so a slow subscriber misses intermediate snapshots
// rather than stalling the producer. [Diff] lets such a subscriber catch up
// from whichever snapshot it saw last.
package store
