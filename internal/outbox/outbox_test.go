package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "outbox.json"))
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func TestOutbox_EnqueueAndLen(t *testing.T) {
	ob, err := New(testConfig(t), func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if ob.Len() != 3 {
		t.Errorf("expected 3 pending items, got %d", ob.Len())
	}
}

func TestOutbox_EvictsOldestAtCapacity(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSize = 5
	ob, err := New(cfg, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	items := ob.Items()
	if len(items) != 5 {
		t.Fatalf("expected queue bounded at 5, got %d", len(items))
	}
	// The five most recent survive, oldest first.
	for i, item := range items {
		want := fmt.Sprintf("event-%d", i+5)
		if item.Name != want {
			t.Errorf("item %d: expected %s, got %s", i, want, item.Name)
		}
	}
}

func TestOutbox_DrainDeliversFIFOBatches(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 4

	var mu sync.Mutex
	var batches [][]string
	deliver := func(ctx context.Context, items []Item) error {
		names := make([]string, len(items))
		for i, it := range items {
			names[i] = it.Name
		}
		mu.Lock()
		batches = append(batches, names)
		mu.Unlock()
		return nil
	}

	ob, err := New(cfg, deliver)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if err := ob.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if ob.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", ob.Len())
	}

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches (4+4+2), got %d", len(batches))
	}
	if len(batches[0]) != 4 || len(batches[1]) != 4 || len(batches[2]) != 2 {
		t.Errorf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
	seq := 0
	for _, b := range batches {
		for _, name := range b {
			want := fmt.Sprintf("event-%d", seq)
			if name != want {
				t.Errorf("delivery out of order: expected %s, got %s", want, name)
			}
			seq++
		}
	}
}

func TestOutbox_FailedDeliveryLeavesQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 2

	calls := 0
	deliver := func(ctx context.Context, items []Item) error {
		calls++
		if calls == 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	ob, err := New(cfg, deliver)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if err := ob.Drain(context.Background()); err == nil {
		t.Fatal("expected drain to surface the delivery error")
	}

	// First batch (2 items) delivered; the second failed and stays queued.
	items := ob.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items after partial drain, got %d", len(items))
	}
	if items[0].Name != "event-2" {
		t.Errorf("expected head event-2, got %s", items[0].Name)
	}
}

func TestOutbox_PersistsAcrossReload(t *testing.T) {
	cfg := testConfig(t)
	ob, err := New(cfg, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	reloaded, err := New(cfg, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	items := reloaded.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items after reload, got %d", len(items))
	}
	for i, item := range items {
		want := fmt.Sprintf("event-%d", i)
		if item.Name != want {
			t.Errorf("item %d: expected %s, got %s", i, want, item.Name)
		}
	}
}

func TestOutbox_ReloadTrimsOverCapacity(t *testing.T) {
	cfg := testConfig(t)
	ob, err := New(cfg, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 8; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	// Reopen with a tighter bound; only the newest entries survive.
	small := *cfg
	small.MaxSize = 3
	reloaded, err := New(&small, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	items := reloaded.Items()
	if len(items) != 3 {
		t.Fatalf("expected trim to 3, got %d", len(items))
	}
	if items[0].Name != "event-5" {
		t.Errorf("expected oldest survivor event-5, got %s", items[0].Name)
	}
}

func TestOutbox_DrainSingleFlight(t *testing.T) {
	cfg := testConfig(t)

	started := make(chan struct{})
	release := make(chan struct{})
	deliver := func(ctx context.Context, items []Item) error {
		close(started)
		<-release
		return nil
	}

	ob, err := New(cfg, deliver)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ob.Enqueue("event-0", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ob.Drain(context.Background()) }()
	<-started

	// While one drain holds the guard, a second returns immediately.
	if err := ob.Drain(context.Background()); err != nil {
		t.Errorf("overlapping drain must be a no-op, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first drain failed: %v", err)
	}
	if ob.Len() != 0 {
		t.Errorf("expected empty queue, got %d", ob.Len())
	}
}

func TestOutbox_DrainPublishesResult(t *testing.T) {
	cfg := testConfig(t)
	ob, err := New(cfg, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	drains, cancel := ob.Drains()
	defer cancel()

	// An empty drain announces nothing.
	if err := ob.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	select {
	case dr := <-drains:
		t.Errorf("empty drain must not publish, got %+v", dr)
	default:
	}

	for i := 0; i < 3; i++ {
		if err := ob.Enqueue(fmt.Sprintf("event-%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := ob.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	select {
	case dr := <-drains:
		if dr.Delivered != 3 {
			t.Errorf("expected 3 delivered, got %d", dr.Delivered)
		}
		if dr.At.IsZero() {
			t.Error("drain result missing timestamp")
		}
	default:
		t.Fatal("completed drain not announced")
	}
}

func TestOutbox_OfflineEnqueueDoesNotKick(t *testing.T) {
	cfg := testConfig(t)
	cfg.Online = func() bool { return false }

	ob, err := New(cfg, func(ctx context.Context, items []Item) error { return nil })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ob.Enqueue("event-0", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case <-ob.kicks:
		t.Error("offline enqueue must not request a drain")
	default:
	}
	if ob.Len() != 1 {
		t.Errorf("item should stay queued while offline, got %d", ob.Len())
	}
}
