// Package scan runs scan tasks: it drives the task state machine, enforces
// the per-project rate budget, executes scanner tools with validated
// arguments (falling back to built-in implementations when a binary is
// missing), and upserts findings into the asset graph.
package scan

import (
	"fmt"
	"regexp"
	"strings"
)

// Task types handled by the runner.
const (
	TypeSubdomainScan  = "subdomain_scan"
	TypeDNSResolve     = "dns_resolve"
	TypePortScan       = "port_scan"
	TypeHTTPProbe      = "http_probe"
	TypeFingerprint    = "fingerprint"
	TypeScreenshot     = "screenshot"
	TypeNucleiScan     = "nuclei_scan"
	TypeXrayScan       = "xray_scan"
	TypeJSAPIDiscovery = "js_api_discovery"
)

// TaskTypes is the allowlist used by template and scan validation.
var TaskTypes = map[string]bool{
	TypeSubdomainScan:  true,
	TypeDNSResolve:     true,
	TypePortScan:       true,
	TypeHTTPProbe:      true,
	TypeFingerprint:    true,
	TypeScreenshot:     true,
	TypeNucleiScan:     true,
	TypeXrayScan:       true,
	TypeJSAPIDiscovery: true,
}

// Tool arguments are passed as argv, never through a shell; these checks stop
// injection into the tools' own option parsers.

var (
	dnsLabelRe     = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	templatePathRe = regexp.MustCompile(`^[\w\-./]+$`)
)

var nucleiSeverities = map[string]bool{
	"info": true, "low": true, "medium": true, "high": true, "critical": true,
}

// xrayPlugins is the static allowlist for the xray --plugins flag.
var xrayPlugins = map[string]bool{
	"xss": true, "sqldet": true, "cmd-injection": true, "dirscan": true,
	"path-traversal": true, "xxe": true, "upload": true, "brute-force": true,
	"jsonp": true, "ssrf": true, "baseline": true, "redirect": true,
	"crlf-injection": true, "struts": true, "thinkphp": true, "shiro": true,
	"fastjson": true,
}

// ValidateDomain rejects anything that is not a plain DNS name.
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 {
		return fmt.Errorf("invalid domain %q", domain)
	}
	if !dnsLabelRe.MatchString(domain) {
		return fmt.Errorf("invalid domain %q", domain)
	}
	return nil
}

// ValidateNucleiSeverities checks a comma separated severity list.
func ValidateNucleiSeverities(csv string) error {
	if csv == "" {
		return nil
	}
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(strings.ToLower(s))
		if !nucleiSeverities[s] {
			return fmt.Errorf("invalid nuclei severity %q", s)
		}
	}
	return nil
}

// ValidateTemplatePath rejects nuclei -t values that could escape the
// template directory.
func ValidateTemplatePath(path string) error {
	if path == "" || !templatePathRe.MatchString(path) {
		return fmt.Errorf("invalid template path %q", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("invalid template path %q", path)
	}
	return nil
}

// ValidateXrayPlugins checks a comma separated plugin list against the
// allowlist.
func ValidateXrayPlugins(csv string) error {
	if csv == "" {
		return nil
	}
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if !xrayPlugins[p] {
			return fmt.Errorf("xray plugin %q not allowed", p)
		}
	}
	return nil
}
