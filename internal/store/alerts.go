package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- notification channels ---

// CreateNotificationChannel inserts a channel.
func (s *Store) CreateNotificationChannel(ctx context.Context, c *NotificationChannel) (*NotificationChannel, error) {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Config == nil {
		c.Config = JSONMap{}
	}
	const q = `INSERT INTO notification_channels (id, project_id, name, channel_type, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err := s.db.ExecContext(ctx, q, c.ID, c.ProjectID, c.Name, c.ChannelType, c.Config, c.Enabled, c.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return c, nil
}

const channelColumns = `id, project_id, name, channel_type, config, enabled, last_test_at, last_test_ok, created_at, updated_at`

func scanChannel(row rowScanner) (*NotificationChannel, error) {
	c := &NotificationChannel{}
	err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.ChannelType, &c.Config, &c.Enabled,
		&c.LastTestAt, &c.LastTestOK, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return c, nil
}

// GetNotificationChannel fetches one channel.
func (s *Store) GetNotificationChannel(ctx context.Context, id string) (*NotificationChannel, error) {
	return scanChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM notification_channels WHERE id = $1`, id))
}

// ListNotificationChannels returns all channels for a project.
func (s *Store) ListNotificationChannels(ctx context.Context, projectID string) ([]*NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM notification_channels WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err())
}

// UpdateNotificationChannel patches name/config/enabled.
func (s *Store) UpdateNotificationChannel(ctx context.Context, id string, name *string, config JSONMap, enabled *bool) (*NotificationChannel, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		set := func(col string, val interface{}) error {
			res, err := tx.ExecContext(ctx, `UPDATE notification_channels SET `+col+` = $2, updated_at = now() WHERE id = $1`, id, val)
			if err != nil {
				return err
			}
			return checkFound(res)
		}
		if name != nil {
			if err := set("name", *name); err != nil {
				return err
			}
		}
		if config != nil {
			if err := set("config", config); err != nil {
				return err
			}
		}
		if enabled != nil {
			if err := set("enabled", *enabled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetNotificationChannel(ctx, id)
}

// DeleteNotificationChannel removes a channel.
func (s *Store) DeleteNotificationChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_channels WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// RecordChannelTest stores the outcome of a test delivery.
func (s *Store) RecordChannelTest(ctx context.Context, id string, ok bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_channels SET last_test_at = now(), last_test_ok = $2, updated_at = now() WHERE id = $1`, id, ok)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// --- alert policies ---

// CreateAlertPolicy inserts a policy.
func (s *Store) CreateAlertPolicy(ctx context.Context, p *AlertPolicy) (*AlertPolicy, error) {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	if p.Conditions == nil {
		p.Conditions = JSONMap{}
	}
	if p.ChannelIDs == nil {
		p.ChannelIDs = StringList{}
	}
	const q = `INSERT INTO alert_policies (id, project_id, name, severity_threshold, aggregation_window,
			cooldown_minutes, max_alerts_per_hour, conditions, channel_ids, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	_, err := s.db.ExecContext(ctx, q, p.ID, p.ProjectID, p.Name, p.SeverityThreshold, p.AggregationWindow,
		p.CooldownMinutes, p.MaxAlertsPerHour, p.Conditions, p.ChannelIDs, p.Enabled, p.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return p, nil
}

const alertPolicyColumns = `id, project_id, name, severity_threshold, aggregation_window,
	cooldown_minutes, max_alerts_per_hour, conditions, channel_ids, enabled, created_at, updated_at`

func scanAlertPolicy(row rowScanner) (*AlertPolicy, error) {
	p := &AlertPolicy{}
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.SeverityThreshold, &p.AggregationWindow,
		&p.CooldownMinutes, &p.MaxAlertsPerHour, &p.Conditions, &p.ChannelIDs, &p.Enabled,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return p, nil
}

// GetAlertPolicy fetches one policy.
func (s *Store) GetAlertPolicy(ctx context.Context, id string) (*AlertPolicy, error) {
	return scanAlertPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+alertPolicyColumns+` FROM alert_policies WHERE id = $1`, id))
}

// ListAlertPolicies returns policies for a project; enabledOnly restricts to
// the ones the alerter evaluates.
func (s *Store) ListAlertPolicies(ctx context.Context, projectID string, enabledOnly bool) ([]*AlertPolicy, error) {
	q := `SELECT ` + alertPolicyColumns + ` FROM alert_policies WHERE project_id = $1`
	if enabledOnly {
		q += ` AND enabled`
	}
	q += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*AlertPolicy
	for rows.Next() {
		p, err := scanAlertPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

// AlertPolicyUpdate carries optional patch fields.
type AlertPolicyUpdate struct {
	Name              *string
	SeverityThreshold *string
	AggregationWindow *int
	CooldownMinutes   *int
	MaxAlertsPerHour  *int
	Conditions        JSONMap
	ChannelIDs        StringList
	Enabled           *bool
}

// UpdateAlertPolicy patches a policy.
func (s *Store) UpdateAlertPolicy(ctx context.Context, id string, upd AlertPolicyUpdate) (*AlertPolicy, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		set := func(col string, val interface{}) error {
			res, err := tx.ExecContext(ctx, `UPDATE alert_policies SET `+col+` = $2, updated_at = now() WHERE id = $1`, id, val)
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
		if upd.SeverityThreshold != nil {
			if err := set("severity_threshold", *upd.SeverityThreshold); err != nil {
				return err
			}
		}
		if upd.AggregationWindow != nil {
			if err := set("aggregation_window", *upd.AggregationWindow); err != nil {
				return err
			}
		}
		if upd.CooldownMinutes != nil {
			if err := set("cooldown_minutes", *upd.CooldownMinutes); err != nil {
				return err
			}
		}
		if upd.MaxAlertsPerHour != nil {
			if err := set("max_alerts_per_hour", *upd.MaxAlertsPerHour); err != nil {
				return err
			}
		}
		if upd.Conditions != nil {
			if err := set("conditions", upd.Conditions); err != nil {
				return err
			}
		}
		if upd.ChannelIDs != nil {
			if err := set("channel_ids", upd.ChannelIDs); err != nil {
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
	return s.GetAlertPolicy(ctx, id)
}

// DeleteAlertPolicy removes a policy.
func (s *Store) DeleteAlertPolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_policies WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// --- alert records ---

// CreateAlertRecord inserts a new pending alert.
func (s *Store) CreateAlertRecord(ctx context.Context, r *AlertRecord) (*AlertRecord, error) {
	r.ID = uuid.New().String()
	r.Status = AlertPending
	r.AggregatedCount = 1
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	if r.Details == nil {
		r.Details = JSONMap{}
	}
	if r.NotificationResults == nil {
		r.NotificationResults = JSONMap{}
	}
	const q = `INSERT INTO alert_records (id, project_id, policy_id, target_type, target_id, title, message,
			severity, details, aggregation_key, aggregated_count, status, notification_results, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9, $10, 1, $11, $12, $13, $13)`
	_, err := s.db.ExecContext(ctx, q, r.ID, r.ProjectID, r.PolicyID, r.TargetType, r.TargetID, r.Title,
		r.Message, r.Severity, r.Details, r.AggregationKey, r.Status, r.NotificationResults, r.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

const alertRecordColumns = `id, project_id, policy_id, target_type, COALESCE(target_id::text, ''), title,
	message, severity, details, aggregation_key, aggregated_count, status, notification_results, created_at, updated_at`

func scanAlertRecord(row rowScanner) (*AlertRecord, error) {
	r := &AlertRecord{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.PolicyID, &r.TargetType, &r.TargetID, &r.Title,
		&r.Message, &r.Severity, &r.Details, &r.AggregationKey, &r.AggregatedCount, &r.Status,
		&r.NotificationResults, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// GetAlertRecord fetches one alert.
func (s *Store) GetAlertRecord(ctx context.Context, id string) (*AlertRecord, error) {
	return scanAlertRecord(s.db.QueryRowContext(ctx,
		`SELECT `+alertRecordColumns+` FROM alert_records WHERE id = $1`, id))
}

// ListAlertRecords returns alerts for a project, newest first, optionally
// filtered by status.
func (s *Store) ListAlertRecords(ctx context.Context, projectID, status string, limit, offset int) ([]*AlertRecord, error) {
	q := `SELECT ` + alertRecordColumns + ` FROM alert_records WHERE project_id = $1`
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
	var out []*AlertRecord
	for rows.Next() {
		r, err := scanAlertRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// CountRecentAlerts counts alerts a policy produced within the window, used
// for the hourly cap.
func (s *Store) CountRecentAlerts(ctx context.Context, policyID string, window time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alert_records WHERE policy_id = $1 AND created_at > $2`,
		policyID, time.Now().UTC().Add(-window)).Scan(&n)
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

// LastAlertForKey returns the newest alert with this aggregation key, used
// for the cooldown check. ErrNotFound when the key has never fired.
func (s *Store) LastAlertForKey(ctx context.Context, projectID, aggregationKey string) (*AlertRecord, error) {
	return scanAlertRecord(s.db.QueryRowContext(ctx,
		`SELECT `+alertRecordColumns+` FROM alert_records
		 WHERE project_id = $1 AND aggregation_key = $2
		 ORDER BY created_at DESC LIMIT 1`, projectID, aggregationKey))
}

// FindAggregatableAlert returns a non-resolved alert with the same key inside
// the aggregation window, or ErrNotFound.
func (s *Store) FindAggregatableAlert(ctx context.Context, projectID, aggregationKey string, window time.Duration) (*AlertRecord, error) {
	return scanAlertRecord(s.db.QueryRowContext(ctx,
		`SELECT `+alertRecordColumns+` FROM alert_records
		 WHERE project_id = $1 AND aggregation_key = $2 AND status != $3 AND created_at > $4
		 ORDER BY created_at DESC LIMIT 1`,
		projectID, aggregationKey, AlertResolved, time.Now().UTC().Add(-window)))
}

// IncrementAggregatedCount folds a duplicate observation into an existing
// alert.
func (s *Store) IncrementAggregatedCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_records SET aggregated_count = aggregated_count + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	return checkFound(res)
}

// SetNotificationResult records one channel's delivery outcome under a row
// lock so concurrent channel sends do not clobber each other.
func (s *Store) SetNotificationResult(ctx context.Context, id, channelID string, result JSONMap) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := scanAlertRecord(tx.QueryRowContext(ctx,
			`SELECT `+alertRecordColumns+` FROM alert_records WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		r.NotificationResults[channelID] = map[string]interface{}(result)
		_, err = tx.ExecContext(ctx,
			`UPDATE alert_records SET notification_results = $2, updated_at = now() WHERE id = $1`,
			id, r.NotificationResults)
		return err
	})
}

// Legal alert status moves: pending -> sent -> acknowledged -> resolved, with
// resolve allowed from any non-resolved state.
func alertMoveAllowed(from, to string) bool {
	switch to {
	case AlertSent:
		return from == AlertPending
	case AlertAcknowledged:
		return from == AlertSent
	case AlertResolved:
		return from != AlertResolved
	}
	return false
}

// UpdateAlertStatus advances the alert workflow.
func (s *Store) UpdateAlertStatus(ctx context.Context, id, to string) (*AlertRecord, error) {
	cur, err := s.GetAlertRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alertMoveAllowed(cur.Status, to) {
		return nil, fmt.Errorf("%w: cannot move alert %s -> %s", ErrPrecondition, cur.Status, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_records SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, cur.Status, to)
	if err != nil {
		return nil, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, wrapErr(err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: alert status changed concurrently", ErrConflict)
	}
	return s.GetAlertRecord(ctx, id)
}
