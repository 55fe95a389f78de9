package publish

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ringbuf"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/store"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []message
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{subj, data})
	return nil
}

func (c *fakeConn) received() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.msgs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_Run(t *testing.T) {
	st := store.NewSnapshotStore("session-1")
	conn := &fakeConn{}
	pub := New(conn, "ecg", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx, st)
		close(done)
	}()
	// let Run subscribe before publishing
	time.Sleep(20 * time.Millisecond)

	base := time.Unix(100, 0)
	bpm := ringbuf.New[ecg.BPMSample](10)
	bpm.Push(ecg.BPMSample{Timestamp: base, BPM: 72})
	flag := ecg.EventFlag{ID: "f1", Kind: ecg.Premature, Onset: base, Severity: ecg.SeverityInfo}

	st.Publish(&ecg.Snapshot{
		SessionID:   "session-1",
		BPMHistory:  bpm.View(),
		ActiveFlags: []ecg.EventFlag{flag},
	})
	st.Publish(&ecg.Snapshot{
		SessionID:   "session-1",
		BPMHistory:  bpm.View(),
		RecentFlags: []ecg.EventFlag{flag.Closed(base.Add(4 * time.Millisecond))},
	})

	deadline := time.Now().Add(time.Second)
	for len(conn.received()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	msgs := conn.received()
	if len(msgs) != 3 {
		t.Fatalf("published %d messages, want 3", len(msgs))
	}

	if msgs[0].subject != "ecg.bpm" {
		t.Errorf("msgs[0].subject = %v, want ecg.bpm", msgs[0].subject)
	}
	var b BPMMessage
	if err := json.Unmarshal(msgs[0].data, &b); err != nil {
		t.Fatalf("decode bpm: %v", err)
	}
	if b.BPM != 72 || b.Ts != base.UnixMilli() || b.SessionID != "session-1" {
		t.Errorf("bpm message = %+v", b)
	}

	var onset, offset FlagMessage
	if err := json.Unmarshal(msgs[1].data, &onset); err != nil {
		t.Fatalf("decode onset: %v", err)
	}
	if err := json.Unmarshal(msgs[2].data, &offset); err != nil {
		t.Fatalf("decode offset: %v", err)
	}
	if msgs[1].subject != "ecg.events" || onset.Event != "onset" || onset.Flag.ID != "f1" {
		t.Errorf("onset message = %v %+v", msgs[1].subject, onset)
	}
	if offset.Event != "offset" || offset.Flag.Offset == nil {
		t.Errorf("offset message = %+v", offset)
	}
}

func TestPublisher_ResetEndsActiveFlags(t *testing.T) {
	st := store.NewSnapshotStore("session-1")
	conn := &fakeConn{}
	pub := New(conn, "ecg", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx, st)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	base := time.Unix(100, 0)
	resetAt := base.Add(5 * time.Second)
	flag := ecg.EventFlag{ID: "t1", Kind: ecg.Tachycardia, Onset: base, Severity: ecg.SeverityWarning}

	st.Publish(&ecg.Snapshot{SessionID: "session-1", ActiveFlags: []ecg.EventFlag{flag}})
	st.Publish(&ecg.Snapshot{SessionID: "session-2", PublishedAt: resetAt})

	deadline := time.Now().Add(time.Second)
	for len(conn.received()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	msgs := conn.received()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want onset and offset", len(msgs))
	}
	var offset FlagMessage
	if err := json.Unmarshal(msgs[1].data, &offset); err != nil {
		t.Fatalf("decode offset: %v", err)
	}
	if msgs[1].subject != "ecg.events" || offset.Event != "offset" || offset.Flag.ID != "t1" {
		t.Errorf("offset message = %v %+v", msgs[1].subject, offset)
	}
	if offset.SessionID != "session-1" {
		t.Errorf("offset.SessionID = %q, want session-1", offset.SessionID)
	}
	if offset.Flag.Offset == nil || !offset.Flag.Offset.Equal(resetAt) {
		t.Errorf("offset.Flag.Offset = %v, want %v", offset.Flag.Offset, resetAt)
	}
}

func TestPublisher_SkipsCatchUpOfExistingHistory(t *testing.T) {
	st := store.NewSnapshotStore("s")
	bpm := ringbuf.New[ecg.BPMSample](10)
	bpm.Push(ecg.BPMSample{Timestamp: time.Unix(1, 0), BPM: 60})
	st.Publish(&ecg.Snapshot{BPMHistory: bpm.View()})

	conn := &fakeConn{}
	pub := New(conn, "ecg", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	pub.Run(ctx, st)

	if n := len(conn.received()); n != 0 {
		t.Errorf("published %d messages for pre-existing history, want 0", n)
	}
}

func TestPublisher_StopsWhenUnsubscribed(t *testing.T) {
	st := store.NewSnapshotStore("s")
	pub := New(&fakeConn{}, "ecg", nil)

	done := make(chan struct{})
	go func() {
		pub.Run(context.Background(), &closingStore{SnapshotStore: st})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run() did not return after its subscription closed")
	}
}

// closingStore hands out subscriptions that are already closed.
type closingStore struct {
	*store.SnapshotStore
}

func (c *closingStore) Subscribe() <-chan *ecg.Snapshot {
	ch := make(chan *ecg.Snapshot)
	close(ch)
	return ch
}

func (c *closingStore) Unsubscribe(<-chan *ecg.Snapshot) {}
