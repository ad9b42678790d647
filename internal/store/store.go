// Package store provides the durable local copy of household data.
//
// The store is an embedded SQLite database opened in WAL mode so the CLI
// can read while the sync engine writes. It is the source of truth while
// offline: every component reads and writes records through this package,
// and the sync bookkeeping columns (needs_sync, pending_delete,
// last_synced_at, local_id) live here next to the business fields.
//
// Identity: rows are keyed by the server-assigned id once a record has
// completed a round-trip, and by the client-generated local_id before that.
// AdoptServerID swaps one for the other in place.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roomies-app/roomies-sync/internal/model"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection holding the local replica.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the local database at the specified path.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// readers don't fail during sync writes. The caller MUST call Close()
// when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "roomies.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	st := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return st, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		key TEXT PRIMARY KEY,          -- server id, or local id before first upload
		id TEXT,                       -- server id (NULL until confirmed)
		local_id TEXT,                 -- client id (NULL after confirmation)
		title TEXT NOT NULL,
		description TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		points INTEGER NOT NULL DEFAULT 0,
		due_date TEXT,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		recurring_type TEXT,
		is_completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		household_id TEXT,
		assigned_user_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		-- Sync bookkeeping
		needs_sync INTEGER NOT NULL DEFAULT 0,
		pending_delete INTEGER NOT NULL DEFAULT 0,
		last_synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS households (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		invite_code TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Small key/value table for engine state (last sync time, device id).
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_needs_sync ON tasks(needs_sync);
	CREATE INDEX IF NOT EXISTS idx_tasks_household ON tasks(household_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(is_completed);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_id ON tasks(id) WHERE id IS NOT NULL;
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveTask inserts or updates a task, keyed by its identity (server id once
// confirmed, local id before that). Upsert-by-identity keeps re-sync
// idempotent: replaying the same remote snapshot changes nothing.
func (s *Store) SaveTask(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	query := `
	INSERT INTO tasks (
		key, id, local_id, title, description, priority, points,
		due_date, is_recurring, recurring_type, is_completed, completed_at,
		household_id, assigned_user_id, created_by, created_at, updated_at,
		needs_sync, pending_delete, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		id = excluded.id,
		local_id = excluded.local_id,
		title = excluded.title,
		description = excluded.description,
		priority = excluded.priority,
		points = excluded.points,
		due_date = excluded.due_date,
		is_recurring = excluded.is_recurring,
		recurring_type = excluded.recurring_type,
		is_completed = excluded.is_completed,
		completed_at = excluded.completed_at,
		household_id = excluded.household_id,
		assigned_user_id = excluded.assigned_user_id,
		created_by = excluded.created_by,
		updated_at = excluded.updated_at,
		needs_sync = excluded.needs_sync,
		pending_delete = excluded.pending_delete,
		last_synced_at = excluded.last_synced_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		task.Key(),
		nullString(task.ID),
		nullString(task.LocalID),
		task.Title,
		task.Description,
		task.Priority,
		task.Points,
		timeToNullString(task.DueDate),
		boolToInt(task.IsRecurring),
		task.RecurringType,
		boolToInt(task.IsCompleted),
		timeToNullString(task.CompletedAt),
		task.HouseholdID,
		task.AssignedUserID,
		task.CreatedBy,
		task.CreatedAt.UTC().Format(time.RFC3339Nano),
		task.UpdatedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(task.NeedsSync),
		boolToInt(task.PendingDelete),
		timeToNullString(task.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.Key(), err)
	}
	return nil
}

// GetTask fetches a task by its identity key (server id or local id).
// Returns (nil, nil) when the task doesn't exist.
func (s *Store) GetTask(ctx context.Context, key string) (*model.Task, error) {
	row := s.conn.QueryRowContext(ctx, selectTasks+` WHERE key = ?`, key)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", key, err)
	}
	return task, nil
}

// GetTaskByServerID fetches a task by its server-assigned id.
// Returns (nil, nil) when no such task exists locally.
func (s *Store) GetTaskByServerID(ctx context.Context, id string) (*model.Task, error) {
	row := s.conn.QueryRowContext(ctx, selectTasks+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by server id %s: %w", id, err)
	}
	return task, nil
}

// ListTasks returns all visible tasks for a household, newest first.
// Records awaiting delete confirmation are hidden from listings.
func (s *Store) ListTasks(ctx context.Context, householdID string) ([]*model.Task, error) {
	rows, err := s.conn.QueryContext(ctx,
		selectTasks+` WHERE household_id = ? AND pending_delete = 0 ORDER BY created_at DESC`,
		householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListDirty returns every record with needs_sync set, oldest mutation first
// so uploads happen in roughly the order the user made them.
func (s *Store) ListDirty(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.conn.QueryContext(ctx,
		selectTasks+` WHERE needs_sync = 1 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// AdoptServerID replaces a task's local identity with its confirmed server
// id. The local id is cleared and never reused.
func (s *Store) AdoptServerID(ctx context.Context, localID, serverID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET key = ?, id = ?, local_id = NULL WHERE local_id = ?`,
		serverID, serverID, localID)
	if err != nil {
		return fmt.Errorf("failed to adopt server id for %s: %w", localID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no task with local id %s", localID)
	}
	return nil
}

// DeleteTask removes a row by identity key. Idempotent.
func (s *Store) DeleteTask(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", key, err)
	}
	return nil
}

// TaskCount returns the number of stored tasks, pending deletes included.
func (s *Store) TaskCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// SaveHousehold inserts or updates the household row.
func (s *Store) SaveHousehold(ctx context.Context, h *model.Household) error {
	query := `
	INSERT INTO households (id, name, invite_code, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		invite_code = excluded.invite_code,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		h.ID, h.Name, h.InviteCode,
		h.CreatedAt.UTC().Format(time.RFC3339Nano),
		h.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save household %s: %w", h.ID, err)
	}
	return nil
}

// CurrentHousehold returns the stored household, or (nil, nil) if the
// device hasn't joined one yet. A device belongs to at most one household.
func (s *Store) CurrentHousehold(ctx context.Context) (*model.Household, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, name, invite_code, created_at, updated_at FROM households LIMIT 1`)

	var h model.Household
	var invite sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&h.ID, &h.Name, &invite, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get household: %w", err)
	}
	h.InviteCode = invite.String
	h.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	h.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &h, nil
}

// GetMeta reads an engine state value; returns "" when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta stores an engine state value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}
