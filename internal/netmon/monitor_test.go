package netmon

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

func testMonitor(probe Probe) *Monitor {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return New(probe, cfg)
}

func TestMonitor_StartsOffline(t *testing.T) {
	m := testMonitor(nil)
	if m.Online() {
		t.Error("monitor must start offline until a probe succeeds")
	}
}

func TestMonitor_TransitionsPublishedOnChangeOnly(t *testing.T) {
	m := testMonitor(nil)
	transitions, cancel := m.Transitions()
	defer cancel()

	m.SetOnline(false) // already offline: no event
	m.SetOnline(true)
	m.SetOnline(true) // repeat: no event
	m.SetOnline(false)

	var got []bool
	for {
		select {
		case tr := <-transitions:
			got = append(got, tr.Online)
			continue
		default:
		}
		break
	}

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("expected [online, offline] transitions, got %v", got)
	}
}

func TestMonitor_RunProbesImmediately(t *testing.T) {
	var calls atomic.Int32
	m := testMonitor(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for !m.Online() {
		select {
		case <-deadline:
			t.Fatal("monitor never came online from the startup probe")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if calls.Load() < 1 {
		t.Error("probe not invoked on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestMonitor_ProbeFailureFlipsOffline(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	probe := func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	}

	m := testMonitor(probe)

	ctx := context.Background()
	m.probeOnce(ctx)
	if !m.Online() {
		t.Fatal("expected online after successful probe")
	}

	healthy.Store(false)
	m.probeOnce(ctx)
	if m.Online() {
		t.Error("expected offline after failed probe")
	}

	healthy.Store(true)
	m.probeOnce(ctx)
	if !m.Online() {
		t.Error("expected back online after recovery")
	}
}
