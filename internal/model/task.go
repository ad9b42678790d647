// Package model provides the data structures shared across the sync engine.
//
// Records are stored with last-write-wins semantics: every local mutation
// stamps UpdatedAt and sets NeedsSync, and the conflict resolver uses those
// two fields to decide whether a remote snapshot may overwrite local state.
package model

import (
	"fmt"
	"time"
)

// Task is the local representation of a household task.
//
// A task created while offline carries a client-generated LocalID until the
// first successful create call returns a server ID. After that the LocalID
// is cleared and never reused.
type Task struct {
	// ===== Identity =====
	ID      string `json:"id,omitempty"`      // server-assigned, stable once confirmed
	LocalID string `json:"localId,omitempty"` // client-generated, pre-first-upload only

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	Points      int    `json:"points"`

	// ===== Scheduling =====
	DueDate       *time.Time `json:"dueDate,omitempty"`
	IsRecurring   bool       `json:"isRecurring"`
	RecurringType string     `json:"recurringType,omitempty"`

	// ===== Completion =====
	IsCompleted bool       `json:"isCompleted"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// ===== Ownership =====
	HouseholdID    string `json:"householdId,omitempty"`
	AssignedUserID string `json:"assignedUserId,omitempty"`
	CreatedBy      string `json:"createdBy,omitempty"`

	// ===== Clocks =====
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"` // local mutation clock

	// ===== Sync bookkeeping (never sent to the server) =====
	NeedsSync     bool       `json:"-"`
	PendingDelete bool       `json:"-"`
	LastSyncedAt  *time.Time `json:"-"` // last successful reconciliation
}

// Validate checks required fields before a task is persisted or uploaded.
func (t *Task) Validate() error {
	if t.ID == "" && t.LocalID == "" {
		return fmt.Errorf("task must have an id or a localId")
	}
	if t.ID != "" && t.LocalID != "" {
		return fmt.Errorf("task cannot carry both id and localId")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if t.Priority < 0 {
		return fmt.Errorf("priority must be non-negative (got %d)", t.Priority)
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Key returns the identity used to address this task in the local store:
// the server ID once confirmed, otherwise the client LocalID.
func (t *Task) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.LocalID
}

// Synced reports whether the task has ever completed a server round-trip.
func (t *Task) Synced() bool {
	return t.ID != ""
}

// ApplyRemote overwrites all business fields from a remote snapshot,
// clears the dirty flag, and stamps the reconciliation clock. Identity and
// local bookkeeping rules live in the resolver; this is the field copy.
func (t *Task) ApplyRemote(remote *Task, now time.Time) {
	t.Title = remote.Title
	t.Description = remote.Description
	t.Priority = remote.Priority
	t.Points = remote.Points
	t.DueDate = remote.DueDate
	t.IsRecurring = remote.IsRecurring
	t.RecurringType = remote.RecurringType
	t.IsCompleted = remote.IsCompleted
	t.CompletedAt = remote.CompletedAt
	t.AssignedUserID = remote.AssignedUserID
	t.CreatedBy = remote.CreatedBy
	t.HouseholdID = remote.HouseholdID
	if !remote.CreatedAt.IsZero() {
		t.CreatedAt = remote.CreatedAt
	}
	t.UpdatedAt = remote.UpdatedAt
	t.NeedsSync = false
	syncedAt := now
	t.LastSyncedAt = &syncedAt
}
