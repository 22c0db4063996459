package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// schemaStatements are applied in order by EnsureSchema. Sequential and
// idempotent, in the spirit of numbered migration files.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		rate_limit_config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS subdomains (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		subdomain TEXT NOT NULL,
		ip_addresses JSONB NOT NULL DEFAULT '[]',
		source TEXT NOT NULL DEFAULT '',
		fingerprint_hash TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, subdomain)
	)`,

	`CREATE TABLE IF NOT EXISTS ip_addresses (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		ip TEXT NOT NULL,
		asn TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		fingerprint_hash TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, ip)
	)`,

	`CREATE TABLE IF NOT EXISTS ports (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		ip_id UUID NOT NULL REFERENCES ip_addresses(id),
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL DEFAULT 'tcp',
		service TEXT NOT NULL DEFAULT '',
		banner TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (ip_id, port, protocol)
	)`,

	`CREATE TABLE IF NOT EXISTS web_assets (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		url TEXT NOT NULL,
		normalized_url TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		server TEXT NOT NULL DEFAULT '',
		technologies JSONB NOT NULL DEFAULT '[]',
		screenshot_path TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		fingerprint_hash TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, normalized_url)
	)`,

	`CREATE TABLE IF NOT EXISTS js_assets (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		web_asset_id UUID REFERENCES web_assets(id),
		script_url TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		fingerprint_hash TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, script_url, content_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS api_endpoints (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT 'GET',
		source_js_id UUID,
		source TEXT NOT NULL DEFAULT '',
		fingerprint_hash TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, endpoint, method)
	)`,

	`CREATE TABLE IF NOT EXISTS vulnerabilities (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		target_url TEXT NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id UUID,
		template_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'info',
		details JSONB NOT NULL DEFAULT '{}',
		source TEXT NOT NULL DEFAULT '',
		fingerprint_hash TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, target_url, template_id)
	)`,

	`CREATE TABLE IF NOT EXISTS api_risk_findings (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		endpoint_id UUID REFERENCES api_endpoints(id) ON DELETE SET NULL,
		rule_name TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'info',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		status_history JSONB NOT NULL DEFAULT '{}',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, endpoint_id, rule_name)
	)`,

	`CREATE TABLE IF NOT EXISTS asset_entities (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		asset_type TEXT NOT NULL,
		value TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, asset_type, value)
	)`,

	`CREATE TABLE IF NOT EXISTS scan_policies (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		scan_config JSONB NOT NULL DEFAULT '{}',
		dag_template_id UUID,
		is_default BOOLEAN NOT NULL DEFAULT false,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS scan_tasks (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		scan_policy_id UUID,
		task_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 5,
		progress INTEGER NOT NULL DEFAULT 0,
		total_targets INTEGER NOT NULL DEFAULT 0,
		completed_targets INTEGER NOT NULL DEFAULT 0,
		config JSONB NOT NULL DEFAULT '{}',
		result_summary JSONB NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS dag_templates (
		id UUID PRIMARY KEY,
		project_id UUID REFERENCES projects(id),
		name TEXT NOT NULL,
		nodes JSONB NOT NULL DEFAULT '[]',
		is_system BOOLEAN NOT NULL DEFAULT false,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS dag_executions (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		dag_template_id UUID NOT NULL REFERENCES dag_templates(id),
		trigger_type TEXT NOT NULL DEFAULT 'manual',
		trigger_event JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		node_states JSONB NOT NULL DEFAULT '{}',
		node_task_ids JSONB NOT NULL DEFAULT '{}',
		input_config JSONB NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS event_triggers (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		filter_config JSONB NOT NULL DEFAULT '{}',
		dag_template_id UUID NOT NULL,
		dag_config JSONB NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT true,
		trigger_count JSONB NOT NULL DEFAULT '{"total":0,"success":0,"failed":0}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS risk_factors (
		id UUID PRIMARY KEY,
		project_id UUID REFERENCES projects(id),
		name TEXT NOT NULL,
		factor_type TEXT NOT NULL,
		weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		calculation_rule JSONB NOT NULL DEFAULT '{}',
		is_system BOOLEAN NOT NULL DEFAULT false,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS asset_risk_scores (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		asset_type TEXT NOT NULL,
		asset_id UUID NOT NULL,
		total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		severity_level TEXT NOT NULL DEFAULT 'info',
		factor_scores JSONB NOT NULL DEFAULT '{}',
		risk_summary JSONB NOT NULL DEFAULT '{}',
		expires_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, asset_type, asset_id)
	)`,

	`CREATE TABLE IF NOT EXISTS notification_channels (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_test_at TIMESTAMPTZ,
		last_test_ok BOOLEAN,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS alert_policies (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		severity_threshold TEXT NOT NULL DEFAULT 'high',
		aggregation_window INTEGER NOT NULL DEFAULT 5,
		cooldown_minutes INTEGER NOT NULL DEFAULT 60,
		max_alerts_per_hour INTEGER NOT NULL DEFAULT 10,
		conditions JSONB NOT NULL DEFAULT '{}',
		channel_ids JSONB NOT NULL DEFAULT '[]',
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS alert_records (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES projects(id),
		policy_id UUID NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id UUID,
		title TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'info',
		details JSONB NOT NULL DEFAULT '{}',
		aggregation_key TEXT NOT NULL,
		aggregated_count INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		notification_results JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_scan_tasks_project ON scan_tasks (project_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_records_key ON alert_records (project_id, aggregation_key, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_event_triggers_type ON event_triggers (project_id, event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_vulns_target ON vulnerabilities (project_id, target_type, target_id)`,
}

// EnsureSchema applies the schema and seeds the system discovery template.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	if err := s.seedSystemTemplate(ctx); err != nil {
		return err
	}
	slog.Info("schema ensured", "statements", len(schemaStatements))
	return nil
}

// seedSystemTemplate installs the immutable default discovery chain.
func (s *Store) seedSystemTemplate(ctx context.Context) error {
	nodes := NodeList{
		{ID: "subdomains", TaskType: "subdomain_scan"},
		{ID: "resolve", TaskType: "dns_resolve", DependsOn: []string{"subdomains"}},
		{ID: "ports", TaskType: "port_scan", DependsOn: []string{"resolve"}},
		{ID: "probe", TaskType: "http_probe", DependsOn: []string{"ports"}},
		{ID: "fingerprint", TaskType: "fingerprint", DependsOn: []string{"probe"}},
	}
	const q = `INSERT INTO dag_templates (id, project_id, name, nodes, is_system, enabled)
		SELECT '00000000-0000-0000-0000-000000000001', NULL, 'full-discovery', $1, true, true
		WHERE NOT EXISTS (SELECT 1 FROM dag_templates WHERE name = 'full-discovery' AND is_system)`
	_, err := s.db.ExecContext(ctx, q, nodes)
	return wrapErr(err)
}

// CheckInitialized reports ErrUninitialized when core tables are missing so
// the API can answer 503 with a hint instead of failing per request.
func (s *Store) CheckInitialized(ctx context.Context) error {
	var one int
	err := wrapErr(s.db.QueryRowContext(ctx, `SELECT 1 FROM projects LIMIT 1`).Scan(&one))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
