// Package engine provides the sync orchestrator.
//
// The engine drives upload-then-download cycles against the remote
// service:
//  1. Upload every record marked dirty (creates, updates, completions,
//     pending deletes) and reconcile each server response locally.
//  2. Download the authoritative household collection and reconcile each
//     record through the conflict resolver.
//
// Cycles are single-flight: a trigger arriving while one is running is a
// no-op, not a queued duplicate. Triggers are the start of the process, a
// fixed interval, an offline-to-online transition, an explicit user
// mutation, and real-time events from other users. Upload precedes
// download within a cycle so a just-uploaded change is not clobbered by a
// stale pull.
//
// Failure is per item: a record whose upload fails simply stays dirty and
// is picked up by the next cycle (at-least-once delivery). A transport
// failure aborts the remainder of the cycle; nothing else does.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomies-app/roomies-sync/internal/api"
	"github.com/roomies-app/roomies-sync/internal/bus"
	"github.com/roomies-app/roomies-sync/internal/model"
	"github.com/roomies-app/roomies-sync/internal/netmon"
	"github.com/roomies-app/roomies-sync/internal/resolve"
	"github.com/roomies-app/roomies-sync/internal/store"
)

// State is the orchestrator's current phase.
type State string

const (
	StateIdle        State = "idle"
	StateUploading   State = "uploading"
	StateDownloading State = "downloading"
)

// metaLastSync is the meta key recording the last completed cycle.
const metaLastSync = "last_sync_at"

// NoticeKind classifies lifecycle notices published on the engine bus.
type NoticeKind string

const (
	NoticeSyncStarted  NoticeKind = "sync_started"
	NoticeSyncComplete NoticeKind = "sync_complete"
	NoticeSyncFailed   NoticeKind = "sync_failed"
)

// Notice is a sync lifecycle event for observers (status server, CLI).
type Notice struct {
	Kind   NoticeKind
	At     time.Time
	Detail string
}

// Config holds engine configuration.
type Config struct {
	// Interval between timer-triggered cycles.
	Interval time.Duration

	// Logger for cycle activity (default: stderr).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 60 * time.Second,
		Logger:   log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Engine is the sync orchestrator.
type Engine struct {
	store    *store.Store
	client   *api.Client
	monitor  *netmon.Monitor
	resolver *resolve.Resolver
	config   *Config
	now      func() time.Time

	// running is the single-flight guard.
	running atomic.Bool

	kicks   chan string
	notices *bus.Bus[Notice]

	mu       sync.Mutex
	state    State
	lastSync time.Time
}

// New creates an Engine. The monitor may be nil in tests; the engine then
// assumes it is online.
func New(st *store.Store, client *api.Client, monitor *netmon.Monitor, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	return &Engine{
		store:    st,
		client:   client,
		monitor:  monitor,
		resolver: resolve.New(),
		config:   config,
		now:      time.Now,
		kicks:    make(chan string, 8),
		notices:  bus.New[Notice](),
	}
}

// Notices subscribes to sync lifecycle events.
func (e *Engine) Notices() (<-chan Notice, func()) {
	return e.notices.Subscribe()
}

// State returns the orchestrator's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == "" {
		return StateIdle
	}
	return e.state
}

// LastSync returns when the last cycle completed, zero if never.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// Kick requests a sync cycle. Non-blocking; if the trigger queue is full
// the pending kick already covers this one.
func (e *Engine) Kick(reason string) {
	select {
	case e.kicks <- reason:
	default:
	}
}

// Run drives the engine until ctx is cancelled: one cycle at start, then
// on every timer tick, explicit kick, and offline-to-online transition.
func (e *Engine) Run(ctx context.Context) {
	var transitions <-chan netmon.Transition
	if e.monitor != nil {
		ch, cancel := e.monitor.Transitions()
		defer cancel()
		transitions = ch
	}

	// App-start trigger.
	e.runCycle(ctx, "startup")

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx, "interval")
		case reason := <-e.kicks:
			e.runCycle(ctx, reason)
		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if tr.Online {
				e.runCycle(ctx, "online")
			}
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, reason string) {
	if err := e.Sync(ctx); err != nil {
		e.config.Logger.Printf("Sync cycle (%s) failed: %v", reason, err)
	}
}

// Sync performs one upload-then-download cycle. If a cycle is already in
// flight the call returns immediately with no error (single-flight).
func (e *Engine) Sync(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	defer e.running.Store(false)

	if e.monitor != nil && !e.monitor.Online() {
		// Offline: local state is the truth until the next transition.
		return nil
	}

	started := e.now()
	e.notices.Publish(Notice{Kind: NoticeSyncStarted, At: started})

	err := e.cycle(ctx)

	e.setState(StateIdle)
	if err != nil {
		e.notices.Publish(Notice{Kind: NoticeSyncFailed, At: e.now(), Detail: err.Error()})
		return err
	}

	completed := e.now()
	e.mu.Lock()
	e.lastSync = completed
	e.mu.Unlock()
	if metaErr := e.store.SetMeta(ctx, metaLastSync, completed.UTC().Format(time.RFC3339)); metaErr != nil {
		e.config.Logger.Printf("Warning: failed to record last sync time: %v", metaErr)
	}

	e.notices.Publish(Notice{Kind: NoticeSyncComplete, At: completed})
	e.config.Logger.Printf("Sync complete in %v", completed.Sub(started).Round(time.Millisecond))
	return nil
}

func (e *Engine) cycle(ctx context.Context) error {
	e.setState(StateUploading)
	if err := e.uploadDirty(ctx); err != nil {
		return err
	}

	e.setState(StateDownloading)
	if err := e.downloadHousehold(ctx); err != nil {
		return err
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// uploadDirty pushes every record with pending local changes. Per-item
// failures leave the record dirty; only transport and auth failures abort
// the phase.
func (e *Engine) uploadDirty(ctx context.Context) error {
	dirty, err := e.store.ListDirty(ctx)
	if err != nil {
		return fmt.Errorf("failed to query dirty records: %w", err)
	}
	if len(dirty) == 0 {
		return nil
	}

	e.config.Logger.Printf("Uploading %d dirty record(s)", len(dirty))

	for _, task := range dirty {
		if err := e.uploadOne(ctx, task); err != nil {
			if api.IsNetworkUnavailable(err) || api.IsUnauthorized(err) {
				return fmt.Errorf("upload aborted: %w", err)
			}
			// Record stays dirty and is retried next cycle.
			if api.IsRetryable(err) {
				e.config.Logger.Printf("Warning: failed to upload %s, will retry: %v", task.Key(), err)
			} else {
				e.config.Logger.Printf("Warning: upload of %s rejected: %v", task.Key(), err)
			}
		}
	}
	return nil
}

func (e *Engine) uploadOne(ctx context.Context, task *model.Task) error {
	switch {
	case task.PendingDelete:
		return e.uploadDelete(ctx, task)
	case !task.Synced():
		return e.uploadCreate(ctx, task)
	case task.IsCompleted && !e.completionConfirmed(task):
		return e.uploadComplete(ctx, task)
	default:
		return e.uploadUpdate(ctx, task)
	}
}

// completionConfirmed reports whether the completion itself has already
// round-tripped; further edits to a completed task go through the plain
// update call.
func (e *Engine) completionConfirmed(task *model.Task) bool {
	return task.LastSyncedAt != nil && task.CompletedAt != nil &&
		!task.CompletedAt.After(*task.LastSyncedAt)
}

// uploadCreate pushes a never-synced record and adopts the server id.
// After this the local id is cleared and never reused.
func (e *Engine) uploadCreate(ctx context.Context, task *model.Task) error {
	created, err := e.client.CreateTask(ctx, task)
	if err != nil {
		return err
	}

	localID := task.LocalID
	if err := e.store.AdoptServerID(ctx, localID, created.ID); err != nil {
		return err
	}
	task.ID = created.ID
	task.LocalID = ""

	return e.confirm(ctx, task, created)
}

func (e *Engine) uploadUpdate(ctx context.Context, task *model.Task) error {
	updated, err := e.client.UpdateTask(ctx, task)
	if err != nil {
		return err
	}
	return e.confirm(ctx, task, updated)
}

func (e *Engine) uploadComplete(ctx context.Context, task *model.Task) error {
	completed, err := e.client.CompleteTask(ctx, task.ID)
	if err != nil {
		return err
	}
	return e.confirm(ctx, task, completed)
}

// uploadDelete follows delete-then-remove ordering: the local row is only
// removed once the server confirms, so a failed delete is retried next
// cycle instead of leaving orphaned server state.
func (e *Engine) uploadDelete(ctx context.Context, task *model.Task) error {
	if task.Synced() {
		err := e.client.DeleteTask(ctx, task.ID)
		// A 4xx means the record is already gone remotely; removing the
		// local row is then correct.
		if err != nil && !api.IsKind(err, api.KindClient) {
			return err
		}
	}
	return e.store.DeleteTask(ctx, task.Key())
}

// confirm reconciles a server response to our own upload. The round trip
// confirms exactly the snapshot that was uploaded, and the CLI or another
// goroutine may have written the row again while the request was in
// flight, so the current row is re-read: only when it is unchanged since
// the snapshot is the dirty flag cleared. A newer mid-flight edit keeps
// its flag and goes up on the next cycle. The resolver then applies any
// newer server-side fields (authoritative points, completion stamps).
func (e *Engine) confirm(ctx context.Context, task *model.Task, serverCopy *model.Task) error {
	current, err := e.store.GetTask(ctx, task.Key())
	if err != nil {
		return fmt.Errorf("failed to re-read record for confirmation: %w", err)
	}
	if current == nil {
		// Removed while the upload was in flight; nothing to confirm.
		return nil
	}

	if !current.UpdatedAt.After(task.UpdatedAt) {
		current.NeedsSync = false
	}
	e.resolver.Merge(current, serverCopy)
	if err := e.store.SaveTask(ctx, current); err != nil {
		return fmt.Errorf("failed to save confirmed record: %w", err)
	}
	return nil
}

// downloadHousehold pulls the authoritative collection and reconciles
// every record through the conflict resolver.
func (e *Engine) downloadHousehold(ctx context.Context) error {
	household, err := e.currentHousehold(ctx)
	if err != nil {
		return err
	}
	if household == nil {
		// Not in a household yet; nothing to pull.
		return nil
	}

	remoteTasks, err := e.client.ListHouseholdTasks(ctx, household.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch household tasks: %w", err)
	}

	seen := make(map[string]bool, len(remoteTasks))
	applied, kept := 0, 0
	for _, remote := range remoteTasks {
		seen[remote.ID] = true
		local, err := e.store.GetTaskByServerID(ctx, remote.ID)
		if err != nil {
			return err
		}

		switch {
		case local == nil:
			// New on the server; materialize locally.
			fresh := &model.Task{ID: remote.ID}
			fresh.ApplyRemote(remote, e.now().UTC())
			if err := e.store.SaveTask(ctx, fresh); err != nil {
				return err
			}
			applied++

		case local.PendingDelete:
			// Locally deleted, awaiting server confirmation. The snapshot
			// must not resurrect it.
			kept++

		default:
			outcome := e.resolver.Merge(local, remote)
			if err := e.store.SaveTask(ctx, local); err != nil {
				return err
			}
			if outcome == resolve.AppliedRemote {
				applied++
			} else {
				kept++
			}
		}
	}

	pruned, err := e.pruneDeleted(ctx, household.ID, seen)
	if err != nil {
		return err
	}

	e.config.Logger.Printf("Downloaded %d record(s): %d applied, %d kept local, %d pruned",
		len(remoteTasks), applied, kept, pruned)
	return nil
}

// pruneDeleted removes clean, previously-synced rows the authoritative
// snapshot no longer contains: another member deleted them. Dirty rows are
// never pruned; a pending local change always gets its upload attempt.
func (e *Engine) pruneDeleted(ctx context.Context, householdID string, seen map[string]bool) (int, error) {
	locals, err := e.store.ListTasks(ctx, householdID)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, local := range locals {
		if local.ID == "" || local.NeedsSync || seen[local.ID] {
			continue
		}
		if err := e.store.DeleteTask(ctx, local.Key()); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// currentHousehold returns the household scope for this device, fetching
// and caching it from the server on first use.
func (e *Engine) currentHousehold(ctx context.Context) (*model.Household, error) {
	household, err := e.store.CurrentHousehold(ctx)
	if err != nil {
		return nil, err
	}
	if household != nil {
		return household, nil
	}

	remote, err := e.client.CurrentHousehold(ctx)
	if err != nil {
		if api.IsKind(err, api.KindClient) {
			// The user hasn't joined a household yet.
			return nil, nil
		}
		return nil, err
	}
	if err := e.store.SaveHousehold(ctx, remote); err != nil {
		return nil, err
	}
	return remote, nil
}
