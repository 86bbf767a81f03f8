package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"contentflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS scheduled_tasks (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  platform TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  scheduled_for DATETIME NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','running','completed','failed','cancelled','paused')) DEFAULT 'pending',
  priority TEXT NOT NULL CHECK(priority IN ('low','normal','high','urgent')) DEFAULT 'normal',
  retry_count INTEGER NOT NULL DEFAULT 0,
  next_retry_at DATETIME,
  recurrence TEXT,
  parent_schedule_id TEXT,
  tags TEXT,
  notes TEXT NOT NULL DEFAULT '',
  cancel_reason TEXT NOT NULL DEFAULT '',
  executed_at DATETIME,
  created_by TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_tasks_retry ON scheduled_tasks(status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_tasks_window ON scheduled_tasks(customer_id, platform, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON scheduled_tasks(parent_schedule_id);
CREATE TABLE IF NOT EXISTS task_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id TEXT NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  external_id TEXT NOT NULL DEFAULT '',
  external_url TEXT NOT NULL DEFAULT '',
  error_code TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  retryable INTEGER NOT NULL DEFAULT 0,
  finished_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(task_id) REFERENCES scheduled_tasks(id)
);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteStore struct{ db *sql.DB }

func NewSQLite(db *sql.DB) ScheduleStore { return &sqliteStore{db: db} }

const taskColumns = `id,customer_id,platform,entity_type,entity_id,scheduled_for,status,priority,
retry_count,next_retry_at,recurrence,parent_schedule_id,tags,notes,cancel_reason,executed_at,
created_by,created_at,updated_at`

func (s *sqliteStore) Create(ctx context.Context, t *domain.ScheduledTask) error {
	if t.ID == "" {
		t.ID = "sch_" + uuid.NewString()
	}
	rec, err := encodeRecurrence(t.Recurrence)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scheduled_tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CustomerID, t.Platform, t.EntityType, t.EntityID,
		t.ScheduledFor.UTC(), t.Status, t.Priority,
		t.RetryCount, nullTime(t.NextRetryAt), rec, nullString(t.ParentScheduleID),
		encodeTags(t.Tags), t.Notes, t.CancelReason, nullTime(t.ExecutedAt),
		t.CreatedBy, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.ScheduledTask{}, domain.ErrNotFound
	}
	return t, err
}

// Update is conditional on the stored status still matching expected; zero
// rows affected means another worker got there first.
func (s *sqliteStore) Update(ctx context.Context, t domain.ScheduledTask, expected domain.Status) error {
	rec, err := encodeRecurrence(t.Recurrence)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET scheduled_for=?, status=?, priority=?, retry_count=?, next_retry_at=?,
    recurrence=?, tags=?, notes=?, cancel_reason=?, executed_at=?, updated_at=?
WHERE id=? AND status=?`,
		t.ScheduledFor.UTC(), t.Status, t.Priority, t.RetryCount, nullTime(t.NextRetryAt),
		rec, encodeTags(t.Tags), t.Notes, t.CancelReason, nullTime(t.ExecutedAt), t.UpdatedAt.UTC(),
		t.ID, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.Get(ctx, t.ID); gerr != nil {
			return gerr
		}
		return domain.ErrStaleTask
	}
	return nil
}

func (s *sqliteStore) FindPendingExecution(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+` FROM scheduled_tasks
WHERE status='pending' AND scheduled_for <= ?
ORDER BY scheduled_for ASC,
  CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC,
  created_at ASC
LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *sqliteStore) FindPendingRetry(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+` FROM scheduled_tasks
WHERE status='failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
ORDER BY next_retry_at ASC
LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *sqliteStore) FindWindow(ctx context.Context, customerID string, platform domain.Platform, from, to time.Time) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+` FROM scheduled_tasks
WHERE customer_id=? AND platform=? AND scheduled_for >= ? AND scheduled_for <= ?
ORDER BY scheduled_for ASC`, customerID, platform, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *sqliteStore) ListByCustomer(ctx context.Context, customerID string, from, to time.Time) ([]domain.ScheduledTask, error) {
	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE customer_id=?`
	args := []any{customerID}
	if !from.IsZero() {
		q += ` AND scheduled_for >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		q += ` AND scheduled_for <= ?`
		args = append(args, to.UTC())
	}
	q += ` ORDER BY scheduled_for ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *sqliteStore) CountInstances(ctx context.Context, parentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_tasks WHERE parent_schedule_id=?`, parentID).Scan(&n)
	return n, err
}

func (s *sqliteStore) RecordAttempt(ctx context.Context, taskID string, res domain.ExecutionResult) error {
	var code, msg string
	var retryable bool
	if res.Error != nil {
		code, msg, retryable = res.Error.Code, res.Error.Message, res.Error.Retryable
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_attempts (task_id,success,duration_ms,external_id,external_url,error_code,error_message,retryable,finished_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		taskID, res.Success, res.Duration.Milliseconds(), res.ExternalID, res.ExternalURL,
		code, msg, retryable, res.FinishedAt.UTC())
	return err
}

func (s *sqliteStore) GetAttempts(ctx context.Context, taskID string) ([]domain.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT success,duration_ms,external_id,external_url,error_code,error_message,retryable,finished_at
FROM task_attempts WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ExecutionResult
	for rows.Next() {
		var r domain.ExecutionResult
		var ms int64
		var code, msg string
		var retryable bool
		if err := rows.Scan(&r.Success, &ms, &r.ExternalID, &r.ExternalURL, &code, &msg, &retryable, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		if !r.Success {
			r.Error = &domain.ExecutionError{Code: code, Message: msg, Retryable: retryable}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecoverStale(ctx context.Context, now time.Time, timeout time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET status='pending', updated_at=?
WHERE status='running' AND updated_at <= ?`, now.UTC(), now.Add(-timeout).UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var nextRetry, executed sql.NullTime
	var rec, parent, tags sql.NullString
	err := row.Scan(&t.ID, &t.CustomerID, &t.Platform, &t.EntityType, &t.EntityID,
		&t.ScheduledFor, &t.Status, &t.Priority,
		&t.RetryCount, &nextRetry, &rec, &parent,
		&tags, &t.Notes, &t.CancelReason, &executed,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if nextRetry.Valid {
		v := nextRetry.Time
		t.NextRetryAt = &v
	}
	if executed.Valid {
		v := executed.Time
		t.ExecutedAt = &v
	}
	if parent.Valid {
		t.ParentScheduleID = parent.String
	}
	if rec.Valid && rec.String != "" {
		var p domain.RecurrencePattern
		if err := json.Unmarshal([]byte(rec.String), &p); err != nil {
			return domain.ScheduledTask{}, fmt.Errorf("decode recurrence for %s: %w", t.ID, err)
		}
		t.Recurrence = &p
	}
	if tags.Valid && tags.String != "" {
		t.Tags = strings.Split(tags.String, ",")
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.ScheduledTask, error) {
	defer rows.Close()
	var out []domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func encodeRecurrence(p *domain.RecurrencePattern) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode recurrence: %w", err)
	}
	return string(raw), nil
}

func encodeTags(tags []string) string { return strings.Join(tags, ",") }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
