package store

import (
	"context"
	"strings"
)

// Read side of the asset graph, used by the REST listing endpoints and by the
// risk calculator.

// ListSubdomains returns a page of subdomains for a project.
func (s *Store) ListSubdomains(ctx context.Context, projectID string, limit, offset int) ([]*Subdomain, error) {
	const q = `SELECT id, project_id, subdomain, ip_addresses, source, fingerprint_hash, first_seen, last_seen
		FROM subdomains WHERE project_id = $1 ORDER BY subdomain LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*Subdomain
	for rows.Next() {
		r := &Subdomain{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Subdomain, &r.IPAddresses, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListIPAddresses returns a page of IPs for a project.
func (s *Store) ListIPAddresses(ctx context.Context, projectID string, limit, offset int) ([]*IPAddress, error) {
	const q = `SELECT id, project_id, ip, asn, country, source, fingerprint_hash, first_seen, last_seen
		FROM ip_addresses WHERE project_id = $1 ORDER BY ip LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*IPAddress
	for rows.Next() {
		r := &IPAddress{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.IP, &r.ASN, &r.Country, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListPorts returns open ports, optionally filtered to one IP row.
func (s *Store) ListPorts(ctx context.Context, projectID, ipID string, limit, offset int) ([]*Port, error) {
	q := `SELECT id, project_id, ip_id, port, protocol, service, banner, source, first_seen, last_seen
		FROM ports WHERE project_id = $1`
	args := []interface{}{projectID}
	if ipID != "" {
		q += ` AND ip_id = $2`
		args = append(args, ipID)
	}
	q += ` ORDER BY port LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, pageLimit(limit), offset)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*Port
	for rows.Next() {
		r := &Port{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.IPID, &r.Port, &r.Protocol, &r.Service, &r.Banner, &r.Source, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListWebAssets returns a page of probed URLs for a project.
func (s *Store) ListWebAssets(ctx context.Context, projectID string, limit, offset int) ([]*WebAsset, error) {
	const q = `SELECT id, project_id, url, normalized_url, status_code, title, server, technologies,
			screenshot_path, source, fingerprint_hash, first_seen, last_seen
		FROM web_assets WHERE project_id = $1 ORDER BY normalized_url LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*WebAsset
	for rows.Next() {
		r := &WebAsset{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.URL, &r.NormalizedURL, &r.StatusCode, &r.Title, &r.Server,
			&r.Technologies, &r.ScreenshotPath, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListJSAssets returns a page of discovered scripts for a project.
func (s *Store) ListJSAssets(ctx context.Context, projectID string, limit, offset int) ([]*JSAsset, error) {
	const q = `SELECT id, project_id, COALESCE(web_asset_id::text, ''), script_url, content_hash, source,
			fingerprint_hash, first_seen, last_seen
		FROM js_assets WHERE project_id = $1 ORDER BY script_url LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*JSAsset
	for rows.Next() {
		r := &JSAsset{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.WebAssetID, &r.ScriptURL, &r.ContentHash, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListAPIEndpoints returns a page of extracted endpoints for a project.
func (s *Store) ListAPIEndpoints(ctx context.Context, projectID string, limit, offset int) ([]*APIEndpoint, error) {
	const q = `SELECT id, project_id, endpoint, method, COALESCE(source_js_id::text, ''), source,
			fingerprint_hash, first_seen, last_seen
		FROM api_endpoints WHERE project_id = $1 ORDER BY endpoint, method LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*APIEndpoint
	for rows.Next() {
		r := &APIEndpoint{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Endpoint, &r.Method, &r.SourceJSID, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListVulnerabilities returns findings for a project, newest first, optionally
// filtered by severity.
func (s *Store) ListVulnerabilities(ctx context.Context, projectID, severity string, limit, offset int) ([]*Vulnerability, error) {
	q := `SELECT id, project_id, target_url, target_type, COALESCE(target_id::text, ''), template_id,
			name, severity, details, source, fingerprint_hash, first_seen, last_seen
		FROM vulnerabilities WHERE project_id = $1`
	args := []interface{}{projectID}
	if severity != "" {
		q += ` AND severity = $2`
		args = append(args, strings.ToLower(severity))
	}
	q += ` ORDER BY last_seen DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, pageLimit(limit), offset)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*Vulnerability
	for rows.Next() {
		r := &Vulnerability{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.TargetURL, &r.TargetType, &r.TargetID, &r.TemplateID,
			&r.Name, &r.Severity, &r.Details, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// ListAPIRiskFindings returns flagged endpoint patterns for a project.
func (s *Store) ListAPIRiskFindings(ctx context.Context, projectID string, limit, offset int) ([]*APIRiskFinding, error) {
	const q = `SELECT id, project_id, COALESCE(endpoint_id::text, ''), rule_name, severity, description,
			status, status_history, first_seen, last_seen
		FROM api_risk_findings WHERE project_id = $1 ORDER BY last_seen DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, projectID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []*APIRiskFinding
	for rows.Next() {
		r := &APIRiskFinding{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.EndpointID, &r.RuleName, &r.Severity, &r.Description,
			&r.Status, &r.StatusHistory, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// VulnerabilityCountsBySeverity aggregates finding counts for one asset, or
// the whole project when assetType and assetID are empty.
func (s *Store) VulnerabilityCountsBySeverity(ctx context.Context, projectID, assetType, assetID string) (map[string]int, error) {
	q := `SELECT severity, COUNT(*) FROM vulnerabilities WHERE project_id = $1`
	args := []interface{}{projectID}
	if assetID != "" {
		q += ` AND target_type = $2 AND target_id = $3`
		args = append(args, assetType, assetID)
	}
	q += ` GROUP BY severity`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, wrapErr(err)
		}
		counts[strings.ToLower(sev)] = n
	}
	return counts, wrapErr(rows.Err())
}

// OpenPorts returns the observed port numbers for a project, narrowed to one
// IP row when ipID is set.
func (s *Store) OpenPorts(ctx context.Context, projectID, ipID string) ([]int, error) {
	q := `SELECT port FROM ports WHERE project_id = $1`
	args := []interface{}{projectID}
	if ipID != "" {
		q += ` AND ip_id = $2`
		args = append(args, ipID)
	}
	q += ` ORDER BY port`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

// GetIPAddressByValue resolves an IP string to its row within a project.
func (s *Store) GetIPAddressByValue(ctx context.Context, projectID, ip string) (*IPAddress, error) {
	const q = `SELECT id, project_id, ip, asn, country, source, fingerprint_hash, first_seen, last_seen
		FROM ip_addresses WHERE project_id = $1 AND ip = $2`
	r := &IPAddress{}
	err := s.db.QueryRowContext(ctx, q, projectID, ip).Scan(
		&r.ID, &r.ProjectID, &r.IP, &r.ASN, &r.Country, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// ListSubdomainNames returns just the names, used as scan seed targets.
func (s *Store) ListSubdomainNames(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subdomain FROM subdomains WHERE project_id = $1 ORDER BY subdomain`, projectID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, name)
	}
	return out, wrapErr(rows.Err())
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
