package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wordRule(id, name string, m Matcher) Rule {
	r := Rule{ID: id}
	r.Info.Name = name
	r.HTTP = []Probe{{Matchers: []Matcher{m}}}
	return r
}

func TestMatch_WordOr(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("nginx", "Nginx", Matcher{Type: "word", Words: []string{"nginx", "openresty"}}),
	})

	hits := e.Match(MatchInput{Body: "<html>powered by openresty</html>"})
	require.Len(t, hits, 1)
	assert.Equal(t, "nginx", hits[0].RuleID)
	assert.Equal(t, "Nginx", hits[0].Name)

	assert.Empty(t, e.Match(MatchInput{Body: "apache httpd"}))
}

func TestMatch_WordAnd(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("grafana", "Grafana", Matcher{
			Type: "word", Condition: "and", Words: []string{"grafana", "dashboard"},
		}),
	})

	assert.Len(t, e.Match(MatchInput{Body: "grafana dashboard login"}), 1)
	assert.Empty(t, e.Match(MatchInput{Body: "grafana only"}), "and requires every word")
}

func TestMatch_WordCaseInsensitive(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("jenkins", "Jenkins", Matcher{
			Type: "word", Words: []string{"Jenkins"}, CaseInsensitive: true,
		}),
	})
	assert.Len(t, e.Match(MatchInput{Body: "welcome to JENKINS"}), 1)

	sensitive := NewEngine([]Rule{
		wordRule("jenkins", "Jenkins", Matcher{Type: "word", Words: []string{"Jenkins"}}),
	})
	assert.Empty(t, sensitive.Match(MatchInput{Body: "welcome to JENKINS"}))
}

func TestMatch_NegativeWord(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("not-wp", "NotWordpress", Matcher{
			Type: "word", Words: []string{"wp-content"}, Negative: true,
		}),
	})
	assert.Len(t, e.Match(MatchInput{Body: "plain site"}), 1)
	assert.Empty(t, e.Match(MatchInput{Body: "<link href=/wp-content/x.css>"}))
}

func TestMatch_HeaderPart(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("cloudflare", "Cloudflare", Matcher{
			Type: "word", Part: "header", Words: []string{"cf-ray"}, CaseInsensitive: true,
		}),
	})

	hits := e.Match(MatchInput{
		Body:    "cf-ray mentioned in body only",
		Headers: map[string]string{"Server": "cloudflare", "CF-RAY": "abc123"},
	})
	require.Len(t, hits, 1, "header matchers read headers, and header names are part of the haystack")

	assert.Empty(t, e.Match(MatchInput{Body: "cf-ray in body"}),
		"a header matcher must not look at the body")
}

func TestMatch_Regex(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("php", "PHP", Matcher{
			Type: "regex", Part: "header", Regex: []string{`x-powered-by: php/\d`},
		}),
	})
	hits := e.Match(MatchInput{Headers: map[string]string{"X-Powered-By": "PHP/8.2.1"}})
	assert.Len(t, hits, 1, "patterns compile with (?i) so case never matters")
}

func TestMatch_InvalidRegexDropped(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("broken", "Broken", Matcher{Type: "regex", Regex: []string{"(unclosed"}}),
	})
	assert.Empty(t, e.Match(MatchInput{Body: "(unclosed"}), "invalid patterns are dropped, not matched literally")
}

func TestMatch_Favicon(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("gitlab", "GitLab", Matcher{Type: "favicon", Hash: []string{"1278323681"}}),
	})
	assert.Len(t, e.Match(MatchInput{FaviconHash: "1278323681"}), 1)
	assert.Empty(t, e.Match(MatchInput{FaviconHash: "999"}))
	assert.Empty(t, e.Match(MatchInput{Body: "anything"}), "no favicon hash means no favicon match")
}

func TestMatch_SortedByRuleID(t *testing.T) {
	e := NewEngine([]Rule{
		wordRule("zzz", "Z", Matcher{Type: "word", Words: []string{"shared"}}),
		wordRule("aaa", "A", Matcher{Type: "word", Words: []string{"shared"}}),
	})
	hits := e.Match(MatchInput{Body: "shared marker"})
	require.Len(t, hits, 2)
	assert.Equal(t, "aaa", hits[0].RuleID)
	assert.Equal(t, "zzz", hits[1].RuleID)
}

func TestMatch_NameFallsBackToID(t *testing.T) {
	r := Rule{ID: "anon-rule"}
	r.HTTP = []Probe{{Matchers: []Matcher{{Type: "word", Words: []string{"x"}}}}}
	hits := NewEngine([]Rule{r}).Match(MatchInput{Body: "x"})
	require.Len(t, hits, 1)
	assert.Equal(t, "anon-rule", hits[0].Name)
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
- id: nginx
  info:
    name: Nginx
    tags: webserver
    metadata:
      vendor: f5
      product: nginx
  http:
    - matchers:
        - type: word
          part: header
          words:
            - nginx
          case-insensitive: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "nginx", rules[0].ID)
	assert.Equal(t, "f5", rules[0].Info.Metadata.Vendor)

	e := NewEngine(rules)
	assert.Equal(t, 1, e.RuleCount())
	assert.Len(t, e.Match(MatchInput{Headers: map[string]string{"Server": "NGINX/1.25"}}), 1)
}

func TestLoadRules_Missing(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
