package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateEventTrigger inserts an event trigger.
func (s *Store) CreateEventTrigger(ctx context.Context, t *EventTrigger) (*EventTrigger, error) {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	if t.FilterConfig == nil {
		t.FilterConfig = JSONMap{}
	}
	if t.DAGConfig == nil {
		t.DAGConfig = JSONMap{}
	}
	t.TriggerCount = JSONMap{"total": 0, "success": 0, "failed": 0}
	const q = `INSERT INTO event_triggers (id, project_id, name, event_type, filter_config,
			dag_template_id, dag_config, enabled, trigger_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.ProjectID, t.Name, t.EventType, t.FilterConfig,
		t.DAGTemplateID, t.DAGConfig, t.Enabled, t.TriggerCount, t.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return t, nil
}

const triggerColumns = `id, project_id, name, event_type, filter_config, dag_template_id,
	dag_config, enabled, trigger_count, created_at, updated_at`

func scanTrigger(row rowScanner) (*EventTrigger, error) {
	t := &EventTrigger{}
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.EventType, &t.FilterConfig, &t.DAGTemplateID,
		&t.DAGConfig, &t.Enabled, &t.TriggerCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return t, nil
}

// GetEventTrigger fetches one trigger.
func (s *Store) GetEventTrigger(ctx context.Context, id string) (*EventTrigger, error) {
	return scanTrigger(s.db.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM event_triggers WHERE id = $1`, id))
}

// ListEventTriggers returns all triggers for a project.
func (s *Store) ListEventTriggers(ctx context.Context, projectID string) ([]*EventTrigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM event_triggers WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*EventTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

// ListEnabledTriggersForEvent returns enabled triggers matching one event type
// in a project, the set the router evaluates on each emitted event.
func (s *Store) ListEnabledTriggersForEvent(ctx context.Context, projectID, eventType string) ([]*EventTrigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM event_triggers
		 WHERE project_id = $1 AND event_type = $2 AND enabled ORDER BY created_at`, projectID, eventType)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*EventTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

// EventTriggerUpdate carries optional patch fields.
type EventTriggerUpdate struct {
	Name          *string
	EventType     *string
	FilterConfig  JSONMap
	DAGTemplateID *string
	DAGConfig     JSONMap
	Enabled       *bool
}

// UpdateEventTrigger patches a trigger.
func (s *Store) UpdateEventTrigger(ctx context.Context, id string, upd EventTriggerUpdate) (*EventTrigger, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		set := func(col string, val interface{}) error {
			res, err := tx.ExecContext(ctx, `UPDATE event_triggers SET `+col+` = $2, updated_at = now() WHERE id = $1`, id, val)
			if err != nil {
				return err
			}
			return checkFound(res)
		}
		if upd.Name != nil {
			if err := set("name", *upd.Name); err != nil {
				return err
			}
		}
		if upd.EventType != nil {
			if err := set("event_type", *upd.EventType); err != nil {
				return err
			}
		}
		if upd.FilterConfig != nil {
			if err := set("filter_config", upd.FilterConfig); err != nil {
				return err
			}
		}
		if upd.DAGTemplateID != nil {
			if err := set("dag_template_id", *upd.DAGTemplateID); err != nil {
				return err
			}
		}
		if upd.DAGConfig != nil {
			if err := set("dag_config", upd.DAGConfig); err != nil {
				return err
			}
		}
		if upd.Enabled != nil {
			if err := set("enabled", *upd.Enabled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetEventTrigger(ctx, id)
}

// DeleteEventTrigger removes a trigger.
func (s *Store) DeleteEventTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_triggers WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// IncrementTriggerCount bumps the total counter plus success or failed under
// a row lock.
func (s *Store) IncrementTriggerCount(ctx context.Context, id string, success bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTrigger(tx.QueryRowContext(ctx,
			`SELECT `+triggerColumns+` FROM event_triggers WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		bump := func(key string) {
			n, _ := t.TriggerCount[key].(float64)
			t.TriggerCount[key] = n + 1
		}
		bump("total")
		if success {
			bump("success")
		} else {
			bump("failed")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE event_triggers SET trigger_count = $2, updated_at = now() WHERE id = $1`, id, t.TriggerCount)
		return err
	})
}
