package bus

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, string) {
	t.Helper()

	b := NewBroadcaster(log.New(io.Discard, "", 0))
	b.wg.Add(1)
	go b.broadcastLoop()
	t.Cleanup(func() { b.Stop() })

	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBroadcastEventToSubscriber(t *testing.T) {
	b, url := newTestBroadcaster(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	// Wait for registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(snapshot.Event{
		Type:      snapshot.EventTaskCreated,
		TaskID:    "task1",
		ProjectID: "proj1",
		Title:     "New task",
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if frame.Type != FrameType(snapshot.EventTaskCreated) {
		t.Errorf("frame type = %s, want %s", frame.Type, snapshot.EventTaskCreated)
	}
	if frame.Timestamp.IsZero() {
		t.Error("frame timestamp not set")
	}

	var ev snapshot.Event
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	if ev.TaskID != "task1" || ev.Title != "New task" {
		t.Errorf("unexpected event payload: %+v", ev)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b recordSink
	sink := Multi(&a, &b)

	sink.Publish(snapshot.Event{Type: snapshot.EventTaskCompleted, TaskID: "task1"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("sinks received %d and %d events, want 1 and 1", len(a.events), len(b.events))
	}
}

type recordSink struct {
	events []snapshot.Event
}

func (r *recordSink) Publish(ev snapshot.Event) {
	r.events = append(r.events, ev)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(log.New(io.Discard, "", 0))
	defer b.Stop()

	// No broadcast loop running; the buffered channel plus drop-on-full
	// keeps Publish non-blocking.
	for i := 0; i < 200; i++ {
		b.Publish(snapshot.Event{Type: snapshot.EventTaskDueSoon, TaskID: "task1"})
	}
}
