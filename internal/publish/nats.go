// Package publish forwards heart-rate samples and event-flag transitions to
// NATS subjects.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/store"
)

// Connect dials NATS and keeps reconnecting for the lifetime of the process.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("pulse-ecg-monitor"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// BPMMessage is published on <subject>.bpm for every new BPM sample.
type BPMMessage struct {
	SessionID string  `json:"session_id"`
	Ts        int64   `json:"ts"`
	BPM       float64 `json:"bpm"`
}

// FlagMessage is published on <subject>.events for every flag onset and
// offset.
type FlagMessage struct {
	SessionID string        `json:"session_id"`
	Event     string        `json:"event"`
	Flag      ecg.EventFlag `json:"flag"`
}

// Publisher follows the snapshot store and publishes what changed between
// the snapshots it sees. Because changes are computed with [store.Diff], a
// snapshot dropped by a full subscription buffer loses nothing that the
// next snapshot still retains.
type Publisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
}

// New creates a publisher that writes below subject.
func New(conn Conn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}
}

// Run publishes changes until ctx is cancelled or the subscription closes.
// It starts from the store's current snapshot, so history that existed
// before Run is not replayed.
func (p *Publisher) Run(ctx context.Context, st store.Store) {
	ch := st.Subscribe()
	defer st.Unsubscribe(ch)

	prev := st.Latest()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if snap.Version <= prev.Version {
				continue
			}
			p.publishDelta(snap.SessionID, store.Diff(prev, snap))
			prev = snap
		}
	}
}

func (p *Publisher) publishDelta(session string, d store.Delta) {
	for _, f := range d.Ended {
		p.send(p.subject+".events", FlagMessage{SessionID: d.EndedSession, Event: "offset", Flag: f})
	}
	for _, b := range d.BPM {
		p.send(p.subject+".bpm", BPMMessage{
			SessionID: session,
			Ts:        b.Timestamp.UnixMilli(),
			BPM:       b.BPM,
		})
	}
	for _, f := range d.Opened {
		p.send(p.subject+".events", FlagMessage{SessionID: session, Event: "onset", Flag: withoutOffset(f)})
	}
	for _, f := range d.Closed {
		p.send(p.subject+".events", FlagMessage{SessionID: session, Event: "offset", Flag: f})
	}
}

// withoutOffset reports a flag as it was at onset, even when it closed
// again before this publisher saw it.
func withoutOffset(f ecg.EventFlag) ecg.EventFlag {
	f.Offset = nil
	return f
}

func (p *Publisher) send(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encode message", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("nats publish failed", "subject", subject, "error", fmt.Errorf("publish: %w", err))
	}
}
