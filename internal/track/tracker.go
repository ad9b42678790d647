// Package track provides the mutation tracker: the two pieces of
// bookkeeping every local write goes through before the sync engine sees it.
package track

import (
	"time"

	"github.com/google/uuid"

	"github.com/roomies-app/roomies-sync/internal/model"
)

// Tracker stamps dirty flags and assigns client-local identity. It never
// touches the network or the store; the caller persists the record after.
type Tracker struct {
	now func() time.Time
}

// New creates a Tracker using the wall clock.
func New() *Tracker {
	return &Tracker{now: time.Now}
}

// NewWithClock creates a Tracker with an injected clock for tests.
func NewWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// MarkDirty flags the task as having unconfirmed local changes and advances
// its mutation clock. This is the only place UpdatedAt is stamped on a
// local write, which is what makes last-write-wins comparisons meaningful.
func (tr *Tracker) MarkDirty(task *model.Task) {
	task.NeedsSync = true
	task.UpdatedAt = tr.now().UTC()
}

// AssignLocalID gives a never-synced task its client-side identity. The id
// holds until the first successful create call returns a server id.
func (tr *Tracker) AssignLocalID(task *model.Task) {
	if task.LocalID == "" && task.ID == "" {
		task.LocalID = "local-" + uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = tr.now().UTC()
	}
}

// NewDeviceID generates a stable random identifier for this installation.
// It is persisted once in the store's meta table and attached to outbound
// real-time traffic for diagnostics.
func NewDeviceID() string {
	return uuid.NewString()
}
