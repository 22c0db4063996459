package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateScanPolicy inserts a policy. Marking it default clears the previous
// default in the same transaction.
func (s *Store) CreateScanPolicy(ctx context.Context, p *ScanPolicy) (*ScanPolicy, error) {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	if p.ScanConfig == nil {
		p.ScanConfig = JSONMap{}
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE scan_policies SET is_default = false, updated_at = now() WHERE project_id = $1 AND is_default`,
				p.ProjectID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO scan_policies
			(id, project_id, name, description, scan_config, dag_template_id, is_default, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, $8, $9, $9)`,
			p.ID, p.ProjectID, p.Name, p.Description, p.ScanConfig, p.DAGTemplateID, p.IsDefault, p.Enabled, p.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetScanPolicy fetches one policy.
func (s *Store) GetScanPolicy(ctx context.Context, id string) (*ScanPolicy, error) {
	const q = `SELECT id, project_id, name, description, scan_config, COALESCE(dag_template_id::text, ''),
			is_default, enabled, created_at, updated_at
		FROM scan_policies WHERE id = $1`
	return scanPolicy(s.db.QueryRowContext(ctx, q, id))
}

// DefaultScanPolicy returns the project's default policy, ErrNotFound if none
// is marked.
func (s *Store) DefaultScanPolicy(ctx context.Context, projectID string) (*ScanPolicy, error) {
	const q = `SELECT id, project_id, name, description, scan_config, COALESCE(dag_template_id::text, ''),
			is_default, enabled, created_at, updated_at
		FROM scan_policies WHERE project_id = $1 AND is_default AND enabled`
	return scanPolicy(s.db.QueryRowContext(ctx, q, projectID))
}

func scanPolicy(row rowScanner) (*ScanPolicy, error) {
	p := &ScanPolicy{}
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.ScanConfig, &p.DAGTemplateID,
		&p.IsDefault, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return p, nil
}

// ListScanPolicies returns all policies for a project.
func (s *Store) ListScanPolicies(ctx context.Context, projectID string) ([]*ScanPolicy, error) {
	const q = `SELECT id, project_id, name, description, scan_config, COALESCE(dag_template_id::text, ''),
			is_default, enabled, created_at, updated_at
		FROM scan_policies WHERE project_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*ScanPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

// ScanPolicyUpdate carries optional patch fields; nil pointers are untouched.
type ScanPolicyUpdate struct {
	Name          *string
	Description   *string
	ScanConfig    JSONMap
	DAGTemplateID *string
	IsDefault     *bool
	Enabled       *bool
}

// UpdateScanPolicy patches a policy. Promoting to default demotes the current
// default atomically.
func (s *Store) UpdateScanPolicy(ctx context.Context, id string, upd ScanPolicyUpdate) (*ScanPolicy, error) {
	cur, err := s.GetScanPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if upd.IsDefault != nil && *upd.IsDefault && !cur.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE scan_policies SET is_default = false, updated_at = now() WHERE project_id = $1 AND is_default`,
				cur.ProjectID); err != nil {
				return err
			}
		}
		set := func(col string, val interface{}) error {
			_, err := tx.ExecContext(ctx, `UPDATE scan_policies SET `+col+` = $2, updated_at = now() WHERE id = $1`, id, val)
			return err
		}
		if upd.Name != nil {
			if err := set("name", *upd.Name); err != nil {
				return err
			}
		}
		if upd.Description != nil {
			if err := set("description", *upd.Description); err != nil {
				return err
			}
		}
		if upd.ScanConfig != nil {
			if err := set("scan_config", upd.ScanConfig); err != nil {
				return err
			}
		}
		if upd.DAGTemplateID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE scan_policies SET dag_template_id = NULLIF($2, '')::uuid, updated_at = now() WHERE id = $1`,
				id, *upd.DAGTemplateID); err != nil {
				return err
			}
		}
		if upd.IsDefault != nil {
			if err := set("is_default", *upd.IsDefault); err != nil {
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
	return s.GetScanPolicy(ctx, id)
}

// DeleteScanPolicy removes a policy.
func (s *Store) DeleteScanPolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_policies WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}
