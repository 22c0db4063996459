package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateDAGTemplate inserts a workflow template. ProjectID empty makes it
// global.
func (s *Store) CreateDAGTemplate(ctx context.Context, t *DAGTemplate) (*DAGTemplate, error) {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	const q = `INSERT INTO dag_templates (id, project_id, name, nodes, is_system, enabled, created_at, updated_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $7)`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.ProjectID, t.Name, t.Nodes, t.IsSystem, t.Enabled, t.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return t, nil
}

// GetDAGTemplate fetches one template.
func (s *Store) GetDAGTemplate(ctx context.Context, id string) (*DAGTemplate, error) {
	const q = `SELECT id, COALESCE(project_id::text, ''), name, nodes, is_system, enabled, created_at, updated_at
		FROM dag_templates WHERE id = $1`
	return scanDAGTemplate(s.db.QueryRowContext(ctx, q, id))
}

func scanDAGTemplate(row rowScanner) (*DAGTemplate, error) {
	t := &DAGTemplate{}
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Nodes, &t.IsSystem, &t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return t, nil
}

// ListDAGTemplates returns the project's templates plus the global ones.
func (s *Store) ListDAGTemplates(ctx context.Context, projectID string) ([]*DAGTemplate, error) {
	const q = `SELECT id, COALESCE(project_id::text, ''), name, nodes, is_system, enabled, created_at, updated_at
		FROM dag_templates WHERE project_id IS NULL OR project_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*DAGTemplate
	for rows.Next() {
		t, err := scanDAGTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

// UpdateDAGTemplate patches name/nodes/enabled. System templates are
// immutable.
func (s *Store) UpdateDAGTemplate(ctx context.Context, id string, name *string, nodes NodeList, enabled *bool) (*DAGTemplate, error) {
	cur, err := s.GetDAGTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsSystem {
		return nil, fmt.Errorf("%w: system template is read only", ErrPrecondition)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if name != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE dag_templates SET name = $2, updated_at = now() WHERE id = $1`, id, *name); err != nil {
				return err
			}
		}
		if nodes != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE dag_templates SET nodes = $2, updated_at = now() WHERE id = $1`, id, nodes); err != nil {
				return err
			}
		}
		if enabled != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE dag_templates SET enabled = $2, updated_at = now() WHERE id = $1`, id, *enabled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDAGTemplate(ctx, id)
}

// DeleteDAGTemplate removes a non-system template.
func (s *Store) DeleteDAGTemplate(ctx context.Context, id string) error {
	cur, err := s.GetDAGTemplate(ctx, id)
	if err != nil {
		return err
	}
	if cur.IsSystem {
		return fmt.Errorf("%w: system template is read only", ErrPrecondition)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM dag_templates WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// CreateDAGExecution inserts a pending execution with every node pending.
func (s *Store) CreateDAGExecution(ctx context.Context, e *DAGExecution) (*DAGExecution, error) {
	e.ID = uuid.New().String()
	e.Status = TaskPending
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	if e.NodeStates == nil {
		e.NodeStates = StateMap{}
	}
	if e.NodeTaskIDs == nil {
		e.NodeTaskIDs = StateMap{}
	}
	if e.TriggerEvent == nil {
		e.TriggerEvent = JSONMap{}
	}
	if e.InputConfig == nil {
		e.InputConfig = JSONMap{}
	}
	const q = `INSERT INTO dag_executions (id, project_id, dag_template_id, trigger_type, trigger_event,
			status, node_states, node_task_ids, input_config, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $10)`
	_, err := s.db.ExecContext(ctx, q, e.ID, e.ProjectID, e.DAGTemplateID, e.TriggerType, e.TriggerEvent,
		e.Status, e.NodeStates, e.NodeTaskIDs, e.InputConfig, e.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return e, nil
}

const execColumns = `id, project_id, dag_template_id, trigger_type, trigger_event, status,
	node_states, node_task_ids, input_config, error_message, started_at, finished_at, created_at, updated_at`

func scanExecution(row rowScanner) (*DAGExecution, error) {
	e := &DAGExecution{}
	err := row.Scan(&e.ID, &e.ProjectID, &e.DAGTemplateID, &e.TriggerType, &e.TriggerEvent, &e.Status,
		&e.NodeStates, &e.NodeTaskIDs, &e.InputConfig, &e.ErrorMessage, &e.StartedAt, &e.FinishedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return e, nil
}

// GetDAGExecution fetches one execution.
func (s *Store) GetDAGExecution(ctx context.Context, id string) (*DAGExecution, error) {
	return scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+execColumns+` FROM dag_executions WHERE id = $1`, id))
}

// ListDAGExecutions returns executions for a project, newest first.
func (s *Store) ListDAGExecutions(ctx context.Context, projectID string, limit, offset int) ([]*DAGExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+execColumns+` FROM dag_executions WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*DAGExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, wrapErr(rows.Err())
}

// FindExecutionByTaskID reverse-maps a scan task back to the execution whose
// node launched it.
func (s *Store) FindExecutionByTaskID(ctx context.Context, taskID string) (*DAGExecution, string, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+execColumns+` FROM dag_executions
		 WHERE EXISTS (SELECT 1 FROM jsonb_each_text(node_task_ids) kv WHERE kv.value = $1)
		 ORDER BY created_at DESC LIMIT 1`, taskID))
	if err != nil {
		return nil, "", err
	}
	for nodeID, tid := range e.NodeTaskIDs {
		if tid == taskID {
			return e, nodeID, nil
		}
	}
	return nil, "", ErrNotFound
}

// MutateExecution applies fn to an execution under a row lock and persists the
// JSON aggregates it changed. Concurrent node completions serialize here.
func (s *Store) MutateExecution(ctx context.Context, id string, fn func(e *DAGExecution) error) (*DAGExecution, error) {
	var out *DAGExecution
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		e, err := scanExecution(tx.QueryRowContext(ctx,
			`SELECT `+execColumns+` FROM dag_executions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE dag_executions
			SET status = $2, node_states = $3, node_task_ids = $4, error_message = $5,
			    started_at = $6, finished_at = $7, updated_at = now()
			WHERE id = $1`,
			id, e.Status, e.NodeStates, e.NodeTaskIDs, e.ErrorMessage, e.StartedAt, e.FinishedAt)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
