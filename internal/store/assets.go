package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/surfacehq/surface/internal/asset"
)

// Upsert semantics shared by every asset type: if a row with the natural key
// exists, merge the incoming fields (empty strings never clear stored values)
// and bump last_seen; otherwise insert with first_seen = last_seen = now.
// first_seen is never rewound.

// UpsertSubdomain inserts or merges a subdomain observation. Incoming IPs are
// unioned with the stored set.
func (s *Store) UpsertSubdomain(ctx context.Context, projectID, subdomain, source string, ips []string) (*Subdomain, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO subdomains (id, project_id, subdomain, ip_addresses, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (project_id, subdomain) DO UPDATE SET
			ip_addresses = COALESCE(
				(SELECT jsonb_agg(DISTINCT e) FROM jsonb_array_elements(subdomains.ip_addresses || excluded.ip_addresses) e),
				'[]'::jsonb),
			source = COALESCE(NULLIF(excluded.source, ''), subdomains.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, subdomain, ip_addresses, source, fingerprint_hash, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, subdomain, StringList(ips), source,
		asset.SubdomainFingerprint(projectID, subdomain), now)
	return scanSubdomain(row)
}

// UpsertIPAddress inserts or merges an IP observation.
func (s *Store) UpsertIPAddress(ctx context.Context, projectID, ip, source string) (*IPAddress, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO ip_addresses (id, project_id, ip, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (project_id, ip) DO UPDATE SET
			source = COALESCE(NULLIF(excluded.source, ''), ip_addresses.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, ip, asn, country, source, fingerprint_hash, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, ip, source, asset.IPFingerprint(projectID, ip), now)
	r := &IPAddress{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.IP, &r.ASN, &r.Country, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// UpsertPort inserts or merges an open-port observation on an IP.
func (s *Store) UpsertPort(ctx context.Context, projectID, ipID string, port int, protocol, service, banner, source string) (*Port, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO ports (id, project_id, ip_id, port, protocol, service, banner, source, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (ip_id, port, protocol) DO UPDATE SET
			service = COALESCE(NULLIF(excluded.service, ''), ports.service),
			banner = COALESCE(NULLIF(excluded.banner, ''), ports.banner),
			source = COALESCE(NULLIF(excluded.source, ''), ports.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, ip_id, port, protocol, service, banner, source, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, ipID, port, protocol, service, banner, source, now)
	r := &Port{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.IPID, &r.Port, &r.Protocol, &r.Service, &r.Banner, &r.Source, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// WebAssetUpdate carries the optional fields of a web asset observation.
type WebAssetUpdate struct {
	StatusCode     int
	Title          string
	Server         string
	Technologies   []string
	ScreenshotPath string
	Source         string
}

// UpsertWebAsset inserts or merges a probed URL keyed by its normalized form.
// Technologies are unioned with the stored set.
func (s *Store) UpsertWebAsset(ctx context.Context, projectID, rawURL string, upd WebAssetUpdate) (*WebAsset, error) {
	now := time.Now().UTC()
	normalized := asset.NormalizeURL(rawURL)
	const q = `INSERT INTO web_assets (id, project_id, url, normalized_url, status_code, title, server,
			technologies, screenshot_path, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (project_id, normalized_url) DO UPDATE SET
			status_code = CASE WHEN excluded.status_code > 0 THEN excluded.status_code ELSE web_assets.status_code END,
			title = COALESCE(NULLIF(excluded.title, ''), web_assets.title),
			server = COALESCE(NULLIF(excluded.server, ''), web_assets.server),
			technologies = COALESCE(
				(SELECT jsonb_agg(DISTINCT e) FROM jsonb_array_elements(web_assets.technologies || excluded.technologies) e),
				'[]'::jsonb),
			screenshot_path = COALESCE(NULLIF(excluded.screenshot_path, ''), web_assets.screenshot_path),
			source = COALESCE(NULLIF(excluded.source, ''), web_assets.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, url, normalized_url, status_code, title, server, technologies,
			screenshot_path, source, fingerprint_hash, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, rawURL, normalized, upd.StatusCode, upd.Title, upd.Server,
		StringList(upd.Technologies), upd.ScreenshotPath, upd.Source,
		asset.URLFingerprint(projectID, rawURL), now)
	r := &WebAsset{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.URL, &r.NormalizedURL, &r.StatusCode, &r.Title, &r.Server,
		&r.Technologies, &r.ScreenshotPath, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// UpsertJSAsset inserts or merges a discovered script.
func (s *Store) UpsertJSAsset(ctx context.Context, projectID, webAssetID, scriptURL, contentHash, source string) (*JSAsset, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO js_assets (id, project_id, web_asset_id, script_url, content_hash, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (project_id, script_url, content_hash) DO UPDATE SET
			web_asset_id = COALESCE(excluded.web_asset_id, js_assets.web_asset_id),
			source = COALESCE(NULLIF(excluded.source, ''), js_assets.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, COALESCE(web_asset_id::text, ''), script_url, content_hash, source, fingerprint_hash, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, webAssetID, scriptURL, contentHash, source,
		asset.JSAssetFingerprint(projectID, scriptURL, contentHash), now)
	r := &JSAsset{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.WebAssetID, &r.ScriptURL, &r.ContentHash, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// UpsertAPIEndpoint inserts or merges a discovered API endpoint.
func (s *Store) UpsertAPIEndpoint(ctx context.Context, projectID, endpoint, method, sourceJSID, source string) (*APIEndpoint, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO api_endpoints (id, project_id, endpoint, method, source_js_id, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $8)
		ON CONFLICT (project_id, endpoint, method) DO UPDATE SET
			source_js_id = COALESCE(excluded.source_js_id, api_endpoints.source_js_id),
			source = COALESCE(NULLIF(excluded.source, ''), api_endpoints.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, endpoint, method, COALESCE(source_js_id::text, ''), source, fingerprint_hash, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, endpoint, method, sourceJSID, source,
		asset.EndpointFingerprint(projectID, endpoint, method), now)
	r := &APIEndpoint{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.Endpoint, &r.Method, &r.SourceJSID, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// UpsertVulnerability inserts or merges a scanner finding.
func (s *Store) UpsertVulnerability(ctx context.Context, v *Vulnerability) (*Vulnerability, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO vulnerabilities (id, project_id, target_url, target_type, target_id, template_id,
			name, severity, details, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (project_id, target_url, template_id) DO UPDATE SET
			target_type = COALESCE(NULLIF(excluded.target_type, ''), vulnerabilities.target_type),
			target_id = COALESCE(excluded.target_id, vulnerabilities.target_id),
			name = COALESCE(NULLIF(excluded.name, ''), vulnerabilities.name),
			severity = COALESCE(NULLIF(excluded.severity, ''), vulnerabilities.severity),
			details = vulnerabilities.details || excluded.details,
			source = COALESCE(NULLIF(excluded.source, ''), vulnerabilities.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, target_url, target_type, COALESCE(target_id::text, ''), template_id,
			name, severity, details, source, fingerprint_hash, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), v.ProjectID, v.TargetURL, v.TargetType, v.TargetID, v.TemplateID,
		v.Name, v.Severity, v.Details, v.Source,
		asset.VulnFingerprint(v.ProjectID, v.TargetURL, v.TemplateID), now)
	r := &Vulnerability{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.TargetURL, &r.TargetType, &r.TargetID, &r.TemplateID,
		&r.Name, &r.Severity, &r.Details, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// UpsertAPIRiskFinding inserts or merges a risky endpoint pattern finding.
func (s *Store) UpsertAPIRiskFinding(ctx context.Context, projectID, endpointID, ruleName, severity, description string) (*APIRiskFinding, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO api_risk_findings (id, project_id, endpoint_id, rule_name, severity, description, status, first_seen, last_seen)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, 'open', $7, $7)
		ON CONFLICT (project_id, endpoint_id, rule_name) DO UPDATE SET
			severity = COALESCE(NULLIF(excluded.severity, ''), api_risk_findings.severity),
			description = COALESCE(NULLIF(excluded.description, ''), api_risk_findings.description),
			last_seen = excluded.last_seen
		RETURNING id, project_id, COALESCE(endpoint_id::text, ''), rule_name, severity, description, status, status_history, first_seen, last_seen`
	row := s.db.QueryRowContext(ctx, q,
		uuid.New().String(), projectID, endpointID, ruleName, severity, description, now)
	r := &APIRiskFinding{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.EndpointID, &r.RuleName, &r.Severity, &r.Description, &r.Status, &r.StatusHistory, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}

// UpsertAssetEntity records a raw imported asset. Returns the row and whether
// it was newly inserted.
func (s *Store) UpsertAssetEntity(ctx context.Context, projectID, assetType, value, source string) (*AssetEntity, bool, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO asset_entities (id, project_id, asset_type, value, source, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (project_id, asset_type, value) DO UPDATE SET
			source = COALESCE(NULLIF(excluded.source, ''), asset_entities.source),
			last_seen = excluded.last_seen
		RETURNING id, project_id, asset_type, value, source, first_seen, last_seen, (xmax = 0) AS inserted`
	row := s.db.QueryRowContext(ctx, q, uuid.New().String(), projectID, assetType, value, source, now)
	r := &AssetEntity{}
	var inserted bool
	err := row.Scan(&r.ID, &r.ProjectID, &r.AssetType, &r.Value, &r.Source, &r.FirstSeen, &r.LastSeen, &inserted)
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return r, inserted, nil
}

// MergeDuplicateSubdomains collapses rows sharing a fingerprint_hash: the row
// with the greatest last_seen survives with the union of all ip_addresses and
// the losers are deleted in one transaction.
func (s *Store) MergeDuplicateSubdomains(ctx context.Context, projectID string) (int, error) {
	merged := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, fingerprint_hash, ip_addresses, last_seen
			FROM subdomains WHERE project_id = $1
			ORDER BY fingerprint_hash, last_seen DESC, id
			FOR UPDATE`, projectID)
		if err != nil {
			return err
		}
		type row struct {
			id  string
			ips StringList
		}
		groups := map[string][]row{}
		order := []string{}
		for rows.Next() {
			var id, fp string
			var ips StringList
			var lastSeen time.Time
			if err := rows.Scan(&id, &fp, &ips, &lastSeen); err != nil {
				rows.Close()
				return err
			}
			if _, ok := groups[fp]; !ok {
				order = append(order, fp)
			}
			groups[fp] = append(groups[fp], row{id: id, ips: ips})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, fp := range order {
			group := groups[fp]
			if len(group) < 2 {
				continue
			}
			winner := group[0] // greatest last_seen per the query ordering
			seen := map[string]bool{}
			union := StringList{}
			for _, g := range group {
				for _, ip := range g.ips {
					if !seen[ip] {
						seen[ip] = true
						union = append(union, ip)
					}
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE subdomains SET ip_addresses = $2 WHERE id = $1`, winner.id, union); err != nil {
				return err
			}
			loserIDs := make([]interface{}, 0, len(group)-1)
			placeholders := ""
			for i, g := range group[1:] {
				if i > 0 {
					placeholders += ", "
				}
				placeholders += placeholder(i + 1)
				loserIDs = append(loserIDs, g.id)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM subdomains WHERE id IN (`+placeholders+`)`, loserIDs...); err != nil {
				return err
			}
			merged += len(group) - 1
		}
		return nil
	})
	return merged, err
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func scanSubdomain(row *sql.Row) (*Subdomain, error) {
	r := &Subdomain{}
	err := row.Scan(&r.ID, &r.ProjectID, &r.Subdomain, &r.IPAddresses, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen)
	if err != nil {
		return nil, wrapErr(err)
	}
	return r, nil
}
