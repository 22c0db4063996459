// Package fingerprint matches HTTP responses against a rule database to
// produce technology labels. Rules follow the FingerprintHub layout: each
// rule carries http probes whose matchers test words, regexes, or favicon
// hashes against parts of the response.
package fingerprint

import (
	"log"
	"regexp"
	"sort"
	"strings"
)

// Match is one identified technology.
type Match struct {
	RuleID  string
	Name    string
	Vendor  string
	Product string
	Version string
	Tags    string
}

// Rule is one entry of the rule database.
type Rule struct {
	ID   string `yaml:"id" json:"id"`
	Info struct {
		Name     string `yaml:"name" json:"name"`
		Tags     string `yaml:"tags" json:"tags"`
		Metadata struct {
			Vendor  string `yaml:"vendor" json:"vendor"`
			Product string `yaml:"product" json:"product"`
			Version string `yaml:"version" json:"version"`
		} `yaml:"metadata" json:"metadata"`
	} `yaml:"info" json:"info"`
	HTTP []Probe `yaml:"http" json:"http"`
}

// Probe groups matchers; a rule matches when any matcher of any probe hits.
type Probe struct {
	Matchers []Matcher `yaml:"matchers" json:"matchers"`
}

// Matcher is a single test. Type is word, regex, or favicon; Part selects
// body (default) or header.
type Matcher struct {
	Type            string   `yaml:"type" json:"type"`
	Part            string   `yaml:"part" json:"part"`
	Words           []string `yaml:"words" json:"words"`
	Regex           []string `yaml:"regex" json:"regex"`
	Hash            []string `yaml:"hash" json:"hash"`
	Condition       string   `yaml:"condition" json:"condition"`
	CaseInsensitive bool     `yaml:"case-insensitive" json:"case-insensitive"`
	Negative        bool     `yaml:"negative" json:"negative"`

	compiled []*regexp.Regexp
}

// Engine holds a compiled rule set. It is immutable after NewEngine; hot
// reload swaps whole engines.
type Engine struct {
	rules  []Rule
	logger *log.Logger
}

// NewEngine compiles the rule set. Invalid regex patterns are logged and
// dropped from their matcher.
func NewEngine(rules []Rule) *Engine {
	logger := log.New(log.Writer(), "[FINGERPRINT] ", log.LstdFlags)
	for ri := range rules {
		for pi := range rules[ri].HTTP {
			probe := &rules[ri].HTTP[pi]
			for mi := range probe.Matchers {
				m := &probe.Matchers[mi]
				if m.Type != "regex" {
					continue
				}
				for _, pattern := range m.Regex {
					re, err := regexp.Compile("(?i)" + pattern)
					if err != nil {
						logger.Printf("dropping invalid regex in rule %s: %v", rules[ri].ID, err)
						continue
					}
					m.compiled = append(m.compiled, re)
				}
			}
		}
	}
	logger.Printf("engine ready with %d rules", len(rules))
	return &Engine{rules: rules, logger: logger}
}

// RuleCount reports the size of the loaded rule set.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// MatchInput is the response material a probe produced.
type MatchInput struct {
	Body        string
	Headers     map[string]string
	FaviconHash string
}

// Match evaluates every rule against the response and returns the hits
// ordered by rule id.
func (e *Engine) Match(in MatchInput) []Match {
	headerStr := headersToString(in.Headers)
	var out []Match
	for i := range e.rules {
		rule := &e.rules[i]
		if !ruleMatches(rule, in.Body, headerStr, in.FaviconHash) {
			continue
		}
		name := rule.Info.Name
		if name == "" {
			name = rule.ID
		}
		out = append(out, Match{
			RuleID:  rule.ID,
			Name:    name,
			Vendor:  rule.Info.Metadata.Vendor,
			Product: rule.Info.Metadata.Product,
			Version: rule.Info.Metadata.Version,
			Tags:    rule.Info.Tags,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func ruleMatches(rule *Rule, body, headerStr, faviconHash string) bool {
	for pi := range rule.HTTP {
		for mi := range rule.HTTP[pi].Matchers {
			if matcherHits(&rule.HTTP[pi].Matchers[mi], body, headerStr, faviconHash) {
				return true
			}
		}
	}
	return false
}

func matcherHits(m *Matcher, body, headerStr, faviconHash string) bool {
	content := body
	if m.Part == "header" {
		content = headerStr
	}
	switch m.Type {
	case "", "word":
		return matchWords(m, content)
	case "regex":
		return matchRegex(m, content)
	case "favicon":
		return matchFavicon(m, faviconHash)
	}
	return false
}

func matchWords(m *Matcher, content string) bool {
	if len(m.Words) == 0 {
		return false
	}
	words := m.Words
	if m.CaseInsensitive {
		content = strings.ToLower(content)
		lowered := make([]string, len(words))
		for i, w := range words {
			lowered[i] = strings.ToLower(w)
		}
		words = lowered
	}
	matched := m.Condition == "and"
	for _, w := range words {
		hit := strings.Contains(content, w)
		if m.Condition == "and" {
			matched = matched && hit
		} else if hit {
			matched = true
			break
		}
	}
	if m.Negative {
		return !matched
	}
	return matched
}

func matchRegex(m *Matcher, content string) bool {
	if len(m.compiled) == 0 {
		return m.Negative && len(m.Regex) > 0
	}
	matched := m.Condition == "and"
	for _, re := range m.compiled {
		hit := re.MatchString(content)
		if m.Condition == "and" {
			matched = matched && hit
		} else if hit {
			matched = true
			break
		}
	}
	if m.Negative {
		return !matched
	}
	return matched
}

func matchFavicon(m *Matcher, faviconHash string) bool {
	if faviconHash == "" {
		return false
	}
	matched := false
	for _, h := range m.Hash {
		if strings.EqualFold(h, faviconHash) {
			matched = true
			break
		}
	}
	if m.Negative {
		return !matched
	}
	return matched
}

func headersToString(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
	}
	return b.String()
}
