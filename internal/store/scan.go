package store

import (
	"database/sql"
	"time"

	"github.com/roomies-app/roomies-sync/internal/model"
)

const selectTasks = `
	SELECT id, local_id, title, description, priority, points,
	       due_date, is_recurring, recurring_type, is_completed, completed_at,
	       household_id, assigned_user_id, created_by, created_at, updated_at,
	       needs_sync, pending_delete, last_synced_at
	FROM tasks`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var id, localID, description, recurringType sql.NullString
	var dueDate, completedAt, lastSyncedAt sql.NullString
	var householdID, assignedUserID, createdBy sql.NullString
	var createdAt, updatedAt string
	var isRecurring, isCompleted, needsSync, pendingDelete int

	err := row.Scan(
		&id, &localID, &t.Title, &description, &t.Priority, &t.Points,
		&dueDate, &isRecurring, &recurringType, &isCompleted, &completedAt,
		&householdID, &assignedUserID, &createdBy, &createdAt, &updatedAt,
		&needsSync, &pendingDelete, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ID = id.String
	t.LocalID = localID.String
	t.Description = description.String
	t.RecurringType = recurringType.String
	t.HouseholdID = householdID.String
	t.AssignedUserID = assignedUserID.String
	t.CreatedBy = createdBy.String
	t.IsRecurring = isRecurring != 0
	t.IsCompleted = isCompleted != 0
	t.NeedsSync = needsSync != 0
	t.PendingDelete = pendingDelete != 0
	t.DueDate = nullStringToTime(dueDate)
	t.CompletedAt = nullStringToTime(completedAt)
	t.LastSyncedAt = nullStringToTime(lastSyncedAt)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
