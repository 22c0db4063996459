package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Legal scan task transitions. Anything else is rejected with ErrPrecondition,
// except late terminal writes against a cancelled task which are absorbed.
var taskTransitions = map[string][]string{
	TaskPending: {TaskRunning, TaskCancelled},
	TaskRunning: {TaskPaused, TaskCompleted, TaskFailed, TaskCancelled},
	TaskPaused:  {TaskRunning, TaskCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, t := range taskTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CreateScanTask inserts a pending task.
func (s *Store) CreateScanTask(ctx context.Context, t *ScanTask) (*ScanTask, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Status = TaskPending
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	if t.Config == nil {
		t.Config = JSONMap{}
	}
	if t.ResultSummary == nil {
		t.ResultSummary = JSONMap{}
	}
	const q = `INSERT INTO scan_tasks (id, project_id, scan_policy_id, task_type, status, priority,
			progress, total_targets, completed_targets, config, result_summary, error_message, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, 0, $7, 0, $8, $9, '', $10, $10)`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.ProjectID, t.ScanPolicyID, t.TaskType, t.Status,
		t.Priority, t.TotalTargets, t.Config, t.ResultSummary, t.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return t, nil
}

// GetScanTask fetches one task.
func (s *Store) GetScanTask(ctx context.Context, id string) (*ScanTask, error) {
	const q = `SELECT id, project_id, COALESCE(scan_policy_id::text, ''), task_type, status, priority,
			progress, total_targets, completed_targets, config, result_summary, error_message,
			started_at, finished_at, created_at, updated_at
		FROM scan_tasks WHERE id = $1`
	return scanTask(s.db.QueryRowContext(ctx, q, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*ScanTask, error) {
	t := &ScanTask{}
	err := row.Scan(&t.ID, &t.ProjectID, &t.ScanPolicyID, &t.TaskType, &t.Status, &t.Priority,
		&t.Progress, &t.TotalTargets, &t.CompletedTargets, &t.Config, &t.ResultSummary, &t.ErrorMessage,
		&t.StartedAt, &t.FinishedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return t, nil
}

// ListScanTasks returns tasks for a project, newest first, optionally filtered
// by status.
func (s *Store) ListScanTasks(ctx context.Context, projectID, status string, limit, offset int) ([]*ScanTask, error) {
	q := `SELECT id, project_id, COALESCE(scan_policy_id::text, ''), task_type, status, priority,
			progress, total_targets, completed_targets, config, result_summary, error_message,
			started_at, finished_at, created_at, updated_at
		FROM scan_tasks WHERE project_id = $1`
	args := []interface{}{projectID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, pageLimit(limit), offset)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*ScanTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

// TransitionScanTask moves a task between statuses with a conditional UPDATE
// on (id, status) so concurrent writers cannot double-apply a transition.
// A second start on an already running task returns ErrConflict; other
// illegal moves return ErrPrecondition. Late completed/failed writes against
// a cancelled task are absorbed silently.
func (s *Store) TransitionScanTask(ctx context.Context, id, from, to string) (*ScanTask, error) {
	if !transitionAllowed(from, to) {
		return nil, fmt.Errorf("%w: cannot move %s -> %s", ErrPrecondition, from, to)
	}

	q := `UPDATE scan_tasks SET status = $3, updated_at = now()`
	switch to {
	case TaskRunning:
		q += `, started_at = COALESCE(started_at, now())`
	case TaskCompleted, TaskFailed, TaskCancelled:
		q += `, finished_at = now()`
	}
	q += ` WHERE id = $1 AND status = $2`
	res, err := s.db.ExecContext(ctx, q, id, from, to)
	if err != nil {
		return nil, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, wrapErr(err)
	}
	if n == 0 {
		cur, err := s.GetScanTask(ctx, id)
		if err != nil {
			return nil, err
		}
		// Cancellation won the race; the worker's terminal write is a no-op.
		if cur.Status == TaskCancelled && (to == TaskCompleted || to == TaskFailed) {
			return cur, nil
		}
		if cur.Status == to {
			return nil, fmt.Errorf("%w: task already %s", ErrConflict, to)
		}
		return nil, fmt.Errorf("%w: task is %s, expected %s", ErrPrecondition, cur.Status, from)
	}
	return s.GetScanTask(ctx, id)
}

// UpdateScanTaskProgress records target counters and recomputes progress as
// completed/total, clamped to [0, 100].
func (s *Store) UpdateScanTaskProgress(ctx context.Context, id string, completed, total int) error {
	progress := 0
	if total > 0 {
		progress = completed * 100 / total
	}
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scan_tasks
		SET completed_targets = $2, total_targets = $3, progress = $4, updated_at = now()
		WHERE id = $1`, id, completed, total, progress)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// UpdateScanTaskConfig patches config and priority; callers gate on status.
func (s *Store) UpdateScanTaskConfig(ctx context.Context, id string, config JSONMap, priority int) error {
	if config == nil {
		config = JSONMap{}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scan_tasks
		SET config = $2, priority = $3, updated_at = now()
		WHERE id = $1`, id, config, priority)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// SetScanTaskResult stores the worker's summary and error message.
func (s *Store) SetScanTaskResult(ctx context.Context, id string, summary JSONMap, errMsg string) error {
	if summary == nil {
		summary = JSONMap{}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scan_tasks
		SET result_summary = $2, error_message = $3, updated_at = now()
		WHERE id = $1`, id, summary, errMsg)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

func checkFound(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
