package track

import (
	"testing"
	"time"

	"github.com/roomies-app/roomies-sync/internal/model"
)

func TestMarkDirty(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := NewWithClock(func() time.Time { return now })

	task := &model.Task{ID: "t-1", Title: "Vacuum"}
	tr.MarkDirty(task)

	if !task.NeedsSync {
		t.Error("expected needsSync=true")
	}
	if !task.UpdatedAt.Equal(now) {
		t.Errorf("expected updatedAt=%v, got %v", now, task.UpdatedAt)
	}
}

func TestAssignLocalID(t *testing.T) {
	tr := New()

	task := &model.Task{Title: "Offline task"}
	tr.AssignLocalID(task)

	if task.LocalID == "" {
		t.Fatal("expected a local id")
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected createdAt to be stamped")
	}

	other := &model.Task{Title: "Another"}
	tr.AssignLocalID(other)
	if other.LocalID == task.LocalID {
		t.Error("local ids must be unique")
	}
}

func TestAssignLocalID_DoesNotReassign(t *testing.T) {
	tr := New()

	task := &model.Task{Title: "Has identity", LocalID: "local-keep"}
	tr.AssignLocalID(task)
	if task.LocalID != "local-keep" {
		t.Errorf("existing local id must be kept, got %q", task.LocalID)
	}

	confirmed := &model.Task{Title: "Synced", ID: "t-1"}
	tr.AssignLocalID(confirmed)
	if confirmed.LocalID != "" {
		t.Error("a confirmed record must never get a local id")
	}
}
