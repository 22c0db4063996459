package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableAndProjectScoped(t *testing.T) {
	a := SubdomainFingerprint("proj-1", "www.example.com")
	b := SubdomainFingerprint("proj-1", "www.example.com")
	assert.Equal(t, a, b, "equal inputs must produce equal fingerprints")
	assert.Len(t, a, 32)

	other := SubdomainFingerprint("proj-2", "www.example.com")
	assert.NotEqual(t, a, other, "fingerprints are not project-transferable")
}

func TestSubdomainFingerprint_CaseInsensitive(t *testing.T) {
	assert.Equal(t,
		SubdomainFingerprint("p", "WWW.Example.COM"),
		SubdomainFingerprint("p", "www.example.com"))
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"HTTP://Example.COM:80/path/", "http://example.com/path"},
		{"https://example.com:443/", "https://example.com/"},
		{"https://example.com:8443/x", "https://example.com:8443/x"},
		{"http://example.com", "http://example.com"},
		{"http://example.com/a/b/", "http://example.com/a/b"},
		{"not a url", "not a url"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeURL(c.in), "input %q", c.in)
	}
}

func TestNormalizeURL_Idempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.COM:80/path/",
		"https://example.com:443/",
		"https://example.com:8443/x/",
		"http://example.com/a//b/",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		assert.Equal(t, once, NormalizeURL(once), "N(N(u)) must equal N(u) for %q", in)
	}
}

func TestURLFingerprint_NormalizedEquivalence(t *testing.T) {
	assert.Equal(t,
		URLFingerprint("p", "HTTP://Example.com:80/app/"),
		URLFingerprint("p", "http://example.com/app"))
}
