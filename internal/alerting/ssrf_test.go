package alerting

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSafeURL_SchemeAndHost(t *testing.T) {
	ok, reason := IsSafeURL("ftp://example.com/file")
	assert.False(t, ok)
	assert.Equal(t, "Unsupported protocol: ftp", reason)

	ok, reason = IsSafeURL("http://")
	assert.False(t, ok)
	assert.Equal(t, "Missing hostname", reason)
}

func TestIsSafeURL_BlockedHosts(t *testing.T) {
	for _, raw := range []string{
		"http://localhost/hook",
		"http://127.0.0.1:8080/",
		"https://LOCALHOST/x",
		"http://0.0.0.0/",
	} {
		ok, reason := IsSafeURL(raw)
		assert.False(t, ok, "%s must be rejected", raw)
		assert.Contains(t, reason, "Blocked host", raw)
	}
}

func TestIsSafeURL_BlockedSuffixes(t *testing.T) {
	for _, raw := range []string{
		"http://foo.internal/hook",
		"http://printer.local/",
		"https://svc.localhost/x",
	} {
		ok, reason := IsSafeURL(raw)
		assert.False(t, ok, "%s must be rejected", raw)
		assert.Contains(t, reason, "Blocked domain suffix", raw)
	}
}

func TestIsSafeURL_PrivateIPLiterals(t *testing.T) {
	for _, raw := range []string{
		"http://10.0.0.5/",
		"http://172.16.1.1:9000/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://100.64.0.1/",
		"http://198.18.0.1/",
		"http://240.0.0.1/",
		"http://[fe80::1]/",
	} {
		ok, reason := IsSafeURL(raw)
		assert.False(t, ok, "%s must be rejected", raw)
		assert.Contains(t, reason, "Private/internal IP detected", raw)
	}
}

func TestIsSafeURL_PublicLiteralPasses(t *testing.T) {
	ok, reason := IsSafeURL("https://1.1.1.1/hook")
	assert.True(t, ok, reason)
}

func TestIsSafeURL_ResolvedPrivateIP(t *testing.T) {
	orig := lookupIP
	t.Cleanup(func() { lookupIP = orig })

	lookupIP = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("1.2.3.4"), net.ParseIP("10.0.0.5")}, nil
	}
	ok, reason := IsSafeURL("https://evil.example.com/hook")
	assert.False(t, ok, "any private resolution poisons the whole name")
	assert.Contains(t, reason, "Private/internal IP detected")

	lookupIP = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	ok, _ = IsSafeURL("https://good.example.com/hook")
	assert.True(t, ok)
}

func TestIsSafeURL_UnresolvableNamePasses(t *testing.T) {
	orig := lookupIP
	t.Cleanup(func() { lookupIP = orig })
	lookupIP = func(string) ([]net.IP, error) {
		return nil, errors.New("no such host")
	}
	ok, _ := IsSafeURL("https://definitely-not-registered.example/hook")
	assert.True(t, ok, "resolution failures fail open; the request will error on its own")
}
