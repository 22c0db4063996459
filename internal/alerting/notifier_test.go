package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var sampleData = NotificationData{
	Title:      "Exposed admin panel",
	Message:    "Found /admin without auth",
	Severity:   "high",
	TargetType: "web_asset",
	CreatedAt:  "2026-08-24T10:00:00Z",
}

func TestFormatMessage_Template(t *testing.T) {
	out := FormatMessage(sampleData, "{severity}: {title} on {target_type}")
	assert.Equal(t, "high: Exposed admin panel on web_asset", out)
}

func TestFormatMessage_DefaultLayout(t *testing.T) {
	out := FormatMessage(sampleData, "")
	assert.Equal(t,
		"[HIGH] Exposed admin panel\nMessage: Found /admin without auth\nType: web_asset\nTime: 2026-08-24T10:00:00Z",
		out)
}

func TestFormatMessage_UnknownPlaceholderFallsBack(t *testing.T) {
	out := FormatMessage(sampleData, "{title} at {hostname}")
	assert.Equal(t, FormatMessage(sampleData, ""), out,
		"a template referencing unknown fields must not leak half-rendered text")
}

func TestFormatMessage_AllFields(t *testing.T) {
	out := FormatMessage(sampleData, "{title}|{message}|{severity}|{target_type}|{created_at}")
	assert.Equal(t,
		"Exposed admin panel|Found /admin without auth|high|web_asset|2026-08-24T10:00:00Z",
		out)
}

func TestConfigString(t *testing.T) {
	cfg := map[string]interface{}{"webhook_url": "https://example.com/hook", "count": 3}
	assert.Equal(t, "https://example.com/hook", configString(cfg, "url", "webhook_url"))
	assert.Equal(t, "", configString(cfg, "missing"))
	assert.Equal(t, "", configString(cfg, "count"), "non-string values are skipped")
}
