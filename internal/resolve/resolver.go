// Package resolve merges remote snapshots into local records.
//
// The policy is whole-record last-writer-wins keyed on the update
// timestamp and the local dirty flag. A pending local edit is never
// silently overwritten by a remote snapshot that is not strictly newer.
// Field-level merge is deliberately out of scope: the simpler policy can
// discard a concurrent remote edit to a different field, and that trade
// is accepted.
package resolve

import (
	"time"

	"github.com/roomies-app/roomies-sync/internal/model"
)

// Outcome reports what the resolver did with a remote snapshot.
type Outcome int

const (
	// AppliedRemote means the remote fields overwrote the local record.
	AppliedRemote Outcome = iota

	// KeptLocal means the pending local edit won; only the
	// reconciliation clock was refreshed.
	KeptLocal
)

func (o Outcome) String() string {
	if o == AppliedRemote {
		return "applied remote"
	}
	return "kept local"
}

// Resolver applies the last-writer-wins policy.
type Resolver struct {
	now func() time.Time
}

// New creates a Resolver using the wall clock.
func New() *Resolver {
	return &Resolver{now: time.Now}
}

// NewWithClock creates a Resolver with an injected clock for tests.
func NewWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Merge reconciles a remote snapshot into the local record in place.
//
// Remote fields are applied when the local record has no pending change,
// or when the remote update clock is strictly newer than the local one.
// Equal timestamps keep local state: the device that is actively editing
// wins the tie. Either way the reconciliation clock is refreshed, so the
// round-trip is acknowledged without losing a pending edit.
func (r *Resolver) Merge(local *model.Task, remote *model.Task) Outcome {
	hasPending := local.NeedsSync
	shouldApplyRemote := !hasPending || remote.UpdatedAt.After(local.UpdatedAt)

	now := r.now().UTC()
	if shouldApplyRemote {
		local.ApplyRemote(remote, now)
		return AppliedRemote
	}

	syncedAt := now
	local.LastSyncedAt = &syncedAt
	return KeptLocal
}
