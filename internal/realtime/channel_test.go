package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/roomies-app/roomies-sync/internal/model"
)

// triggerRecorder collects re-pull reasons.
type triggerRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *triggerRecorder) trigger(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *triggerRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func testChannel(t *testing.T, url string, rec *triggerRecorder) *Channel {
	t.Helper()
	cfg := DefaultConfig(url)
	cfg.UserID = "user-1"
	cfg.DeviceID = "device-1"
	cfg.HouseholdID = "h-1"
	cfg.Logger = log.New(io.Discard, "", 0)
	return New(cfg, rec.trigger)
}

func TestHandleMessage_SelfEchoSuppressed(t *testing.T) {
	rec := &triggerRecorder{}
	ch := testChannel(t, "ws://unused", rec)

	events, cancel := ch.Events()
	defer cancel()

	ch.handleMessage([]byte(`{"type":"task_updated","userId":"user-1","payload":{"id":"srv-1"}}`))

	if got := rec.all(); len(got) != 0 {
		t.Errorf("self-echo must not trigger a sync, got %v", got)
	}
	select {
	case ev := <-events:
		t.Errorf("self-echo must not be published, got %+v", ev)
	default:
	}
}

func TestHandleMessage_ForeignEventTriggersRepull(t *testing.T) {
	rec := &triggerRecorder{}
	ch := testChannel(t, "ws://unused", rec)

	events, cancel := ch.Events()
	defer cancel()

	ch.handleMessage([]byte(`{"type":"task_created","userId":"user-2","payload":{"id":"srv-7"}}`))

	got := rec.all()
	if len(got) != 1 || got[0] != "realtime-task_created" {
		t.Fatalf("expected one task_created trigger, got %v", got)
	}
	select {
	case ev := <-events:
		if ev.Type != model.EventTaskCreated || ev.UserID != "user-2" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Error("foreign event not published")
	}
}

func TestHandleMessage_UnknownShapeStillRepulls(t *testing.T) {
	rec := &triggerRecorder{}
	ch := testChannel(t, "ws://unused", rec)

	ch.handleMessage([]byte(`not json at all`))
	ch.handleMessage([]byte(`{"type":"surprise_event","userId":"user-2"}`))

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 triggers, got %v", got)
	}
	for _, reason := range got {
		if reason != "realtime-unknown" {
			t.Errorf("expected realtime-unknown, got %s", reason)
		}
	}
}

func TestChannel_JoinThenReceive(t *testing.T) {
	joins := make(chan joinMessage, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for i := 0; i < 2; i++ {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var join joinMessage
			if err := json.Unmarshal(data, &join); err != nil {
				return
			}
			joins <- join
		}

		// One self-echo, then one foreign event.
		_ = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"task_updated","userId":"user-1","payload":{"id":"srv-1"}}`))
		_ = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"task_completed","userId":"user-2","payload":{"id":"srv-2"}}`))

		// Hold the connection until the client goes away.
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	rec := &triggerRecorder{}
	ch := testChannel(t, url, rec)

	events, cancelEvents := ch.Events()
	defer cancelEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case join := <-joins:
			switch join.Type {
			case "join-household":
				if join.HouseholdID != "h-1" || join.DeviceID != "device-1" {
					t.Errorf("bad household join: %+v", join)
				}
			case "join-user":
				if join.UserID != "user-1" {
					t.Errorf("bad user join: %+v", join)
				}
			default:
				t.Errorf("unexpected join type %q", join.Type)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for join messages")
		}
	}

	select {
	case ev := <-events:
		if ev.Type != model.EventTaskCompleted || ev.UserID != "user-2" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for foreign event")
	}

	reasons := rec.all()
	if len(reasons) != 1 || reasons[0] != "realtime-task_completed" {
		t.Errorf("expected only the foreign event to trigger, got %v", reasons)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run must return nil on cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestChannel_FlappingServerBurnsAttempts(t *testing.T) {
	var accepts atomic.Int32
	// Accepts the handshake, then drops the connection at once.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepts.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusInternalError, "go away")
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	rec := &triggerRecorder{}
	cfg := DefaultConfig(url)
	cfg.MaxAttempts = 3
	cfg.Backoff = 10 * time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	ch := New(cfg, rec.trigger)

	err := ch.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to give up on a connection that keeps dropping")
	}
	if ch.Status() != StatusDisconnected {
		t.Errorf("expected disconnected status, got %s", ch.Status())
	}
	// Short-lived connections count against the attempt budget; the dial
	// loop must not spin past it.
	if n := accepts.Load(); n != 3 {
		t.Errorf("expected exactly 3 connection attempts, got %d", n)
	}
}

func TestChannel_BoundedReconnect(t *testing.T) {
	// Nothing listens here: every dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	rec := &triggerRecorder{}
	cfg := DefaultConfig(url)
	cfg.MaxAttempts = 3
	cfg.Backoff = 10 * time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	ch := New(cfg, rec.trigger)

	start := time.Now()
	err := ch.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to give up after bounded attempts")
	}
	if ch.Status() != StatusDisconnected {
		t.Errorf("expected disconnected status, got %s", ch.Status())
	}
	// Two backoff waits between three attempts; well under a second.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("bounded reconnect took too long: %v", elapsed)
	}
}
