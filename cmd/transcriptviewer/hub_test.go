package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeViewer struct {
	mu       sync.Mutex
	received []viewerEvent
	failing  bool
	closed   bool
}

func (v *fakeViewer) WriteJSON(x any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failing {
		return errors.New("broken pipe")
	}
	v.received = append(v.received, x.(viewerEvent))
	return nil
}

func (v *fakeViewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

func (v *fakeViewer) events() []viewerEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]viewerEvent(nil), v.received...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHub_BroadcastDropsFailedViewers(t *testing.T) {
	hub := newHub()
	go hub.run()
	defer hub.stop()

	good, bad := &fakeViewer{}, &fakeViewer{failing: true}
	hub.register <- good
	hub.register <- bad
	waitFor(t, "two viewers", func() bool { return hub.clientCount() == 2 })

	hub.broadcast <- viewerEvent{Topic: "t", Payload: json.RawMessage(`{"text":"hi"}`)}
	waitFor(t, "delivery", func() bool { return len(good.events()) == 1 })
	waitFor(t, "failed viewer removed", func() bool { return hub.clientCount() == 1 })

	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	if !closed {
		t.Error("expected failed viewer to be closed")
	}
}

type fakeReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsume_ForwardsJSONMessages(t *testing.T) {
	hub := newHub()
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	reader.msgs <- kafka.Message{Key: []byte("k"), Value: []byte("not json")}
	reader.msgs <- kafka.Message{Key: []byte("s-1"), Value: []byte(`{"final":true,"text":"She ate."}`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consume(ctx, hub, reader, "care.transcript.final")
		close(done)
	}()

	select {
	case ev := <-hub.broadcast:
		if ev.Topic != "care.transcript.final" || ev.Key != "s-1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}

	cancel()
	<-done
	if !reader.closed {
		t.Error("expected reader to be closed")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("got %q", got)
	}
}
