package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateProject inserts a project. Duplicate names return ErrConflict.
func (s *Store) CreateProject(ctx context.Context, name, description string, rateLimit JSONMap) (*Project, error) {
	p := &Project{
		ID:              uuid.New().String(),
		Name:            name,
		Description:     description,
		RateLimitConfig: rateLimit,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	const q = `INSERT INTO projects (id, name, description, rate_limit_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, q, p.ID, p.Name, p.Description, p.RateLimitConfig, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return p, nil
}

// GetProject fetches one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	const q = `SELECT id, name, description, rate_limit_config, created_at, updated_at
		FROM projects WHERE id = $1`
	p := &Project{}
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.RateLimitConfig, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	const q = `SELECT id, name, description, rate_limit_config, created_at, updated_at
		FROM projects ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.RateLimitConfig, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

// UpdateProject patches name/description/rate_limit_config. Nil fields are
// left untouched.
func (s *Store) UpdateProject(ctx context.Context, id string, name, description *string, rateLimit JSONMap) (*Project, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if name != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE projects SET name = $2, updated_at = now() WHERE id = $1`, id, *name); err != nil {
				return err
			}
		}
		if description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE projects SET description = $2, updated_at = now() WHERE id = $1`, id, *description); err != nil {
				return err
			}
		}
		if rateLimit != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE projects SET rate_limit_config = $2, updated_at = now() WHERE id = $1`, id, rateLimit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

// cascadeOrder deletes leaves before their owners so no FK is ever dangling
// mid-transaction.
var cascadeOrder = []string{
	`DELETE FROM api_risk_findings WHERE project_id = $1`,
	`DELETE FROM api_endpoints WHERE project_id = $1`,
	`DELETE FROM js_assets WHERE project_id = $1`,
	`DELETE FROM web_assets WHERE project_id = $1`,
	`DELETE FROM ports WHERE project_id = $1`,
	`DELETE FROM ip_addresses WHERE project_id = $1`,
	`DELETE FROM subdomains WHERE project_id = $1`,
	`DELETE FROM vulnerabilities WHERE project_id = $1`,
	`DELETE FROM scan_tasks WHERE project_id = $1`,
	`DELETE FROM scan_policies WHERE project_id = $1`,
	`DELETE FROM asset_entities WHERE project_id = $1`,
	`DELETE FROM alert_records WHERE project_id = $1`,
	`DELETE FROM alert_policies WHERE project_id = $1`,
	`DELETE FROM notification_channels WHERE project_id = $1`,
	`DELETE FROM asset_risk_scores WHERE project_id = $1`,
	`DELETE FROM risk_factors WHERE project_id = $1`,
	`DELETE FROM dag_executions WHERE project_id = $1`,
	`DELETE FROM event_triggers WHERE project_id = $1`,
	`DELETE FROM dag_templates WHERE project_id = $1`,
	`DELETE FROM projects WHERE id = $1`,
}

// DeleteProject removes a project and everything it owns in one transaction.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range cascadeOrder {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}
