package scan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surfacehq/surface/internal/store"
)

func TestValidateDomain(t *testing.T) {
	valid := []string{"example.com", "www.example.com", "a.b-c.example.co.uk", "localhost", "xn--nxasmq6b.example"}
	for _, d := range valid {
		assert.NoError(t, ValidateDomain(d), d)
	}

	invalid := []string{
		"",
		"-example.com",
		"example-.com",
		"exa mple.com",
		"example.com;rm -rf /",
		"$(whoami).example.com",
		strings.Repeat("a", 254),
	}
	for _, d := range invalid {
		assert.Error(t, ValidateDomain(d), "%q must be rejected", d)
	}
}

func TestValidateNucleiSeverities(t *testing.T) {
	assert.NoError(t, ValidateNucleiSeverities(""))
	assert.NoError(t, ValidateNucleiSeverities("high"))
	assert.NoError(t, ValidateNucleiSeverities("info,low,medium,high,critical"))
	assert.NoError(t, ValidateNucleiSeverities(" High , CRITICAL "), "entries are trimmed and lowercased")

	assert.Error(t, ValidateNucleiSeverities("severe"))
	assert.Error(t, ValidateNucleiSeverities("high,-t /etc/passwd"))
}

func TestValidateTemplatePath(t *testing.T) {
	assert.NoError(t, ValidateTemplatePath("cves/2024/CVE-2024-1234.yaml"))
	assert.NoError(t, ValidateTemplatePath("exposures/"))

	assert.Error(t, ValidateTemplatePath(""))
	assert.Error(t, ValidateTemplatePath("../../../etc/passwd"))
	assert.Error(t, ValidateTemplatePath("cves/../../secrets"))
	assert.Error(t, ValidateTemplatePath("cves;id"))
	assert.Error(t, ValidateTemplatePath("cves 2024"))
}

func TestValidateXrayPlugins(t *testing.T) {
	assert.NoError(t, ValidateXrayPlugins(""))
	assert.NoError(t, ValidateXrayPlugins("xss,sqldet"))
	assert.NoError(t, ValidateXrayPlugins(" XSS , Baseline "))

	assert.Error(t, ValidateXrayPlugins("xss,evil-plugin"))
	assert.Error(t, ValidateXrayPlugins("--config=/etc/xray.yaml"))
}

func TestParseNmapGrepable(t *testing.T) {
	out := "# Nmap done at ...\n" +
		"Host: 93.184.216.34 (example.com)\tStatus: Up\n" +
		"Host: 93.184.216.34 (example.com)\tPorts: 22/open/tcp//ssh///, 80/open/tcp//http///, 443/open/tcp//https///, 25/filtered/tcp//smtp///\n"

	ports := parseNmapGrepable(out)
	assert.Equal(t, map[int]string{22: "ssh", 80: "http", 443: "https"}, ports,
		"only open ports are kept, with their service names")
}

func TestParseNmapGrepable_NoPortsLine(t *testing.T) {
	assert.Empty(t, parseNmapGrepable("Host: 1.2.3.4 ()\tStatus: Up\n"))
	assert.Empty(t, parseNmapGrepable(""))
}

func TestConfigTargets(t *testing.T) {
	cfg := store.JSONMap{
		"targets": []interface{}{"a.example.com", "", "b.example.com", 42},
		"target":  "c.example.com",
	}
	assert.Equal(t, []string{"a.example.com", "b.example.com", "c.example.com"}, configTargets(cfg),
		"empty and non-string entries are dropped, singular target appended")

	assert.Empty(t, configTargets(store.JSONMap{}))
	assert.Empty(t, configTargets(nil))
}

func TestTaskTypes_CoverEveryHandler(t *testing.T) {
	for _, tt := range []string{
		TypeSubdomainScan, TypeDNSResolve, TypePortScan, TypeHTTPProbe,
		TypeFingerprint, TypeScreenshot, TypeNucleiScan, TypeXrayScan, TypeJSAPIDiscovery,
	} {
		assert.True(t, TaskTypes[tt], tt)
	}
}
