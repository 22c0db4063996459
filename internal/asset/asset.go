// Package asset derives the stable identity of observed assets: URL
// normalization and the project-scoped fingerprint hashes every upsert keys
// its dedup on.
package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Fingerprint returns the 32-hex-char truncated SHA-256 of
// "{projectID}:{kind}:{value}". Fingerprints are project-scoped and never
// transferable between projects.
func Fingerprint(projectID, kind, value string) string {
	sum := sha256.Sum256([]byte(projectID + ":" + kind + ":" + value))
	return hex.EncodeToString(sum[:])[:32]
}

// SubdomainFingerprint keys a subdomain by its lowercased name.
func SubdomainFingerprint(projectID, subdomain string) string {
	return Fingerprint(projectID, "subdomain", strings.ToLower(subdomain))
}

// IPFingerprint keys an IP address.
func IPFingerprint(projectID, ip string) string {
	return Fingerprint(projectID, "ip", ip)
}

// URLFingerprint keys a web asset by its normalized URL.
func URLFingerprint(projectID, rawURL string) string {
	return Fingerprint(projectID, "url", NormalizeURL(rawURL))
}

// JSAssetFingerprint keys a script by URL plus content hash.
func JSAssetFingerprint(projectID, scriptURL, contentHash string) string {
	return Fingerprint(projectID, "js", scriptURL+":"+contentHash)
}

// EndpointFingerprint keys an API endpoint by path plus method.
func EndpointFingerprint(projectID, endpoint, method string) string {
	return Fingerprint(projectID, "endpoint", endpoint+":"+strings.ToUpper(method))
}

// VulnFingerprint keys a finding by target URL plus template.
func VulnFingerprint(projectID, targetURL, templateID string) string {
	return Fingerprint(projectID, "vuln", targetURL+":"+templateID)
}

// NormalizeURL lowercases scheme and host, strips the default port for the
// scheme, and strips a trailing slash unless the path is just "/". It is
// idempotent; unparseable input is returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "80" && u.Scheme == "http":
		port = ""
	case port == "443" && u.Scheme == "https":
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}
