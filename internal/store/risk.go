package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreateRiskFactor inserts a scoring factor. ProjectID empty makes it global.
func (s *Store) CreateRiskFactor(ctx context.Context, f *RiskFactor) (*RiskFactor, error) {
	f.ID = uuid.New().String()
	f.CreatedAt = time.Now().UTC()
	if f.CalculationRule == nil {
		f.CalculationRule = JSONMap{}
	}
	const q = `INSERT INTO risk_factors (id, project_id, name, factor_type, weight, calculation_rule, is_system, enabled, created_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, q, f.ID, f.ProjectID, f.Name, f.FactorType, f.Weight,
		f.CalculationRule, f.IsSystem, f.Enabled, f.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return f, nil
}

const riskFactorColumns = `id, COALESCE(project_id::text, ''), name, factor_type, weight, calculation_rule, is_system, enabled, created_at`

func scanRiskFactor(row rowScanner) (*RiskFactor, error) {
	f := &RiskFactor{}
	err := row.Scan(&f.ID, &f.ProjectID, &f.Name, &f.FactorType, &f.Weight, &f.CalculationRule,
		&f.IsSystem, &f.Enabled, &f.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return f, nil
}

// ListRiskFactors returns enabled factors visible to the project: its own
// plus the global system defaults.
func (s *Store) ListRiskFactors(ctx context.Context, projectID string) ([]*RiskFactor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+riskFactorColumns+` FROM risk_factors
		 WHERE enabled AND (project_id IS NULL OR project_id = $1) ORDER BY created_at`, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*RiskFactor
	for rows.Next() {
		f, err := scanRiskFactor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, wrapErr(rows.Err())
}

// DeleteRiskFactor removes a non-system factor.
func (s *Store) DeleteRiskFactor(ctx context.Context, id string) error {
	f, err := scanRiskFactor(s.db.QueryRowContext(ctx,
		`SELECT `+riskFactorColumns+` FROM risk_factors WHERE id = $1`, id))
	if err != nil {
		return err
	}
	if f.IsSystem {
		return ErrPrecondition
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM risk_factors WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// UpsertRiskScore stores the latest computed score for an asset, replacing
// any previous row for the same (asset_type, asset_id).
func (s *Store) UpsertRiskScore(ctx context.Context, r *AssetRiskScore) (*AssetRiskScore, error) {
	if r.FactorScores == nil {
		r.FactorScores = JSONMap{}
	}
	if r.RiskSummary == nil {
		r.RiskSummary = JSONMap{}
	}
	const q = `INSERT INTO asset_risk_scores (id, project_id, asset_type, asset_id, total_score,
			severity_level, factor_scores, risk_summary, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (project_id, asset_type, asset_id) DO UPDATE SET
			total_score = excluded.total_score,
			severity_level = excluded.severity_level,
			factor_scores = excluded.factor_scores,
			risk_summary = excluded.risk_summary,
			expires_at = excluded.expires_at,
			updated_at = now()
		RETURNING id, project_id, asset_type, asset_id, total_score, severity_level,
			factor_scores, risk_summary, expires_at, updated_at`
	row := s.db.QueryRowContext(ctx, q, uuid.New().String(), r.ProjectID, r.AssetType, r.AssetID,
		r.TotalScore, r.SeverityLevel, r.FactorScores, r.RiskSummary, r.ExpiresAt)
	out := &AssetRiskScore{}
	err := row.Scan(&out.ID, &out.ProjectID, &out.AssetType, &out.AssetID, &out.TotalScore,
		&out.SeverityLevel, &out.FactorScores, &out.RiskSummary, &out.ExpiresAt, &out.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return out, nil
}

// GetRiskScore returns the stored score for one asset.
func (s *Store) GetRiskScore(ctx context.Context, projectID, assetType, assetID string) (*AssetRiskScore, error) {
	const q = `SELECT id, project_id, asset_type, asset_id, total_score, severity_level,
			factor_scores, risk_summary, expires_at, updated_at
		FROM asset_risk_scores WHERE project_id = $1 AND asset_type = $2 AND asset_id = $3`
	r := &AssetRiskScore{}
	err := s.db.QueryRowContext(ctx, q, projectID, assetType, assetID).Scan(
		&r.ID, &r.ProjectID, &r.AssetType, &r.AssetID, &r.TotalScore, &r.SeverityLevel,
		&r.FactorScores, &r.RiskSummary, &r.ExpiresAt, &r.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// ListRiskScores returns stored scores for a project, highest first.
func (s *Store) ListRiskScores(ctx context.Context, projectID string, limit, offset int) ([]*AssetRiskScore, error) {
	const q = `SELECT id, project_id, asset_type, asset_id, total_score, severity_level,
			factor_scores, risk_summary, expires_at, updated_at
		FROM asset_risk_scores WHERE project_id = $1 ORDER BY total_score DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*AssetRiskScore
	for rows.Next() {
		r := &AssetRiskScore{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.AssetType, &r.AssetID, &r.TotalScore,
			&r.SeverityLevel, &r.FactorScores, &r.RiskSummary, &r.ExpiresAt, &r.UpdatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}
