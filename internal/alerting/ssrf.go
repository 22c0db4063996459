package alerting

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Outbound notification targets must resolve to public address space. The
// guard runs before any network I/O on the channel URL.

var blockedHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

var blockedSuffixes = []string{".local", ".internal", ".localhost"}

// lookupIP is swappable in tests.
var lookupIP = net.LookupIP

// IsSafeURL reports whether the URL may be contacted. The second return is
// the rejection reason.
func IsSafeURL(rawURL string) (bool, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Sprintf("URL validation error: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false, fmt.Sprintf("Unsupported protocol: %s", parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false, "Missing hostname"
	}
	if blockedHosts[host] {
		return false, fmt.Sprintf("Blocked host: %s", host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return false, fmt.Sprintf("Blocked domain suffix: %s", host)
		}
	}

	// A literal IP never needs resolution.
	if ip := net.ParseIP(host); ip != nil {
		if reason := ipBlocked(ip); reason != "" {
			return false, reason
		}
		return true, ""
	}

	ips, err := lookupIP(host)
	if err != nil {
		// Unresolvable names pass; the request itself will fail on a
		// genuinely dead host.
		return true, ""
	}
	for _, ip := range ips {
		if reason := ipBlocked(ip); reason != "" {
			return false, reason
		}
	}
	return true, ""
}

func ipBlocked(ip net.IP) string {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || isReserved(ip) {
		return fmt.Sprintf("Private/internal IP detected: %s", ip)
	}
	return ""
}

// isReserved covers ranges the net package helpers miss: 100.64/10 carrier
// NAT, 192.0.0/24 protocol assignments, 192.0.2/24 + 198.51.100/24 +
// 203.0.113/24 documentation, 198.18/15 benchmarking, 240/4 future use.
var reservedV4 = mustCIDRs(
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
)

func isReserved(ip net.IP) bool {
	for _, n := range reservedV4 {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
