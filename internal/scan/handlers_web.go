package scan

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/surfacehq/surface/internal/fingerprint"
	"github.com/surfacehq/surface/internal/store"
)

const maxBodyBytes = 2 << 20 // 2 MiB per response

func (r *Runner) httpClient() *http.Client {
	transport := &http.Transport{}
	if !r.opts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   httpProbeTimeout,
		Transport: transport,
	}
}

// probeResult is one fetched page.
type probeResult struct {
	url        string
	statusCode int
	title      string
	server     string
	headers    map[string]string
	body       string
}

// fetch retrieves one URL and extracts the probe fields.
func (r *Runner) fetch(ctx context.Context, client *http.Client, target string) (*probeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "surface-scanner/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	res := &probeResult{
		url:        target,
		statusCode: resp.StatusCode,
		server:     resp.Header.Get("Server"),
		headers:    headers,
		body:       string(body),
	}
	if doc, derr := goquery.NewDocumentFromReader(strings.NewReader(res.body)); derr == nil {
		res.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return res, nil
}

// probeTargets expands bare hostnames to https:// then http:// candidates.
func probeTargets(target string) []string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return []string{target}
	}
	return []string{"https://" + target, "http://" + target}
}

// --- http probe ---

func (r *Runner) runHTTPProbe(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		names, err := r.store.ListSubdomainNames(ctx, task.ProjectID)
		if err != nil {
			return nil, err
		}
		targets = names
	}

	client := r.httpClient()
	alive := 0
	for i, target := range targets {
		for _, candidate := range probeTargets(target) {
			res, err := r.fetch(ctx, client, candidate)
			if err != nil {
				continue
			}
			_, uerr := r.store.UpsertWebAsset(ctx, task.ProjectID, res.url, store.WebAssetUpdate{
				StatusCode: res.statusCode,
				Title:      res.title,
				Server:     res.server,
				Source:     "http_probe",
			})
			if uerr != nil {
				return nil, uerr
			}
			alive++
			break
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"targets": len(targets), "alive": alive}, nil
}

// --- fingerprint ---

func (r *Runner) runFingerprint(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		assets, err := r.store.ListWebAssets(ctx, task.ProjectID, 500, 0)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			targets = append(targets, a.URL)
		}
	}

	engine := r.engine()
	client := r.httpClient()
	matched := 0
	for i, target := range targets {
		res, err := r.fetch(ctx, client, probeTargets(target)[0])
		if err != nil {
			continue
		}
		matches := engine.Match(fingerprint.MatchInput{
			Body:        res.body,
			Headers:     res.headers,
			FaviconHash: r.faviconHash(ctx, client, res.url),
		})
		if len(matches) > 0 {
			techs := make([]string, 0, len(matches))
			for _, m := range matches {
				techs = append(techs, m.Name)
			}
			_, uerr := r.store.UpsertWebAsset(ctx, task.ProjectID, res.url, store.WebAssetUpdate{
				StatusCode:   res.statusCode,
				Title:        res.title,
				Server:       res.server,
				Technologies: techs,
				Source:       "fingerprint",
			})
			if uerr != nil {
				return nil, uerr
			}
			matched++
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{"targets": len(targets), "matched": matched, "rules": engine.RuleCount()}, nil
}

// faviconHash fetches /favicon.ico and hashes it for favicon matchers.
func (r *Runner) faviconHash(ctx context.Context, client *http.Client, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	u.Path = "/favicon.ico"
	u.RawQuery = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil || len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// --- screenshot ---

func (r *Runner) runScreenshot(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		assets, err := r.store.ListWebAssets(ctx, task.ProjectID, 500, 0)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			targets = append(targets, a.URL)
		}
	}

	captured, missing := 0, false
	for i, target := range targets {
		dest := filepath.Join(r.opts.ScreenshotDir, fmt.Sprintf("%s-%d.png", task.ID, i))
		_, err := runTool(ctx, gowitnessTimeout, "gowitness", "single", "--url", target,
			"--screenshot-path", r.opts.ScreenshotDir, "--output", dest)
		if err != nil {
			if isToolMissing(err) {
				// Report absence rather than failing the whole task.
				missing = true
				break
			}
			r.logger.Printf("screenshot of %s failed: %v", target, err)
			continue
		}
		if _, uerr := r.store.UpsertWebAsset(ctx, task.ProjectID, target, store.WebAssetUpdate{
			ScreenshotPath: dest,
			Source:         "screenshot",
		}); uerr != nil {
			return nil, uerr
		}
		captured++
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	summary := store.JSONMap{"targets": len(targets), "captured": captured}
	if missing {
		summary["tool_missing"] = "gowitness"
	}
	return summary, nil
}

// --- JS and API discovery ---

// apiPathRe pulls API-looking paths out of script source.
var apiPathRe = regexp.MustCompile(`["'](/(?:api|v[0-9]+)/[\w\-./{}]*)["']`)

// riskyEndpointRules flag endpoint substrings worth reviewing.
var riskyEndpointRules = []struct {
	name        string
	substring   string
	severity    string
	description string
}{
	{"admin-endpoint", "/admin", "high", "Administrative endpoint exposed in client code"},
	{"debug-endpoint", "/debug", "high", "Debug endpoint exposed in client code"},
	{"internal-endpoint", "/internal", "medium", "Internal endpoint referenced in client code"},
	{"token-in-path", "token", "medium", "Credential material referenced in endpoint path"},
	{"upload-endpoint", "/upload", "low", "File upload endpoint discovered"},
}

func (r *Runner) runJSAPIDiscovery(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	targets := configTargets(task.Config)
	if len(targets) == 0 {
		assets, err := r.store.ListWebAssets(ctx, task.ProjectID, 500, 0)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			targets = append(targets, a.URL)
		}
	}

	client := r.httpClient()
	scripts, endpoints, findings := 0, 0, 0
	for i, target := range targets {
		res, err := r.fetch(ctx, client, probeTargets(target)[0])
		if err != nil {
			continue
		}
		webAsset, err := r.store.UpsertWebAsset(ctx, task.ProjectID, res.url, store.WebAssetUpdate{
			StatusCode: res.statusCode,
			Source:     "js_api_discovery",
		})
		if err != nil {
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.body))
		if err != nil {
			continue
		}
		base, _ := url.Parse(res.url)
		var scriptURLs []string
		doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
			src, ok := sel.Attr("src")
			if !ok || src == "" {
				return
			}
			if ref, perr := url.Parse(src); perr == nil && base != nil {
				scriptURLs = append(scriptURLs, base.ResolveReference(ref).String())
			}
		})

		for _, scriptURL := range scriptURLs {
			sres, ferr := r.fetch(ctx, client, scriptURL)
			if ferr != nil {
				continue
			}
			sum := sha256.Sum256([]byte(sres.body))
			contentHash := hex.EncodeToString(sum[:])[:32]
			jsRow, jerr := r.store.UpsertJSAsset(ctx, task.ProjectID, webAsset.ID, scriptURL, contentHash, "js_api_discovery")
			if jerr != nil {
				return nil, jerr
			}
			scripts++

			for _, m := range apiPathRe.FindAllStringSubmatch(sres.body, -1) {
				endpoint := m[1]
				epRow, eerr := r.store.UpsertAPIEndpoint(ctx, task.ProjectID, endpoint, "GET", jsRow.ID, "js_api_discovery")
				if eerr != nil {
					return nil, eerr
				}
				endpoints++
				for _, rule := range riskyEndpointRules {
					if strings.Contains(strings.ToLower(endpoint), rule.substring) {
						if _, ferr := r.store.UpsertAPIRiskFinding(ctx, task.ProjectID, epRow.ID,
							rule.name, rule.severity, rule.description); ferr != nil {
							return nil, ferr
						}
						findings++
					}
				}
			}
		}
		if err := r.store.UpdateScanTaskProgress(ctx, task.ID, i+1, len(targets)); err != nil {
			r.logger.Printf("task %s progress update failed: %v", task.ID, err)
		}
	}
	return store.JSONMap{
		"targets":       len(targets),
		"scripts":       scripts,
		"api_endpoints": endpoints,
		"risk_findings": findings,
	}, nil
}
