package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surfacehq/surface/internal/store"
)

func TestMaskChannelConfig(t *testing.T) {
	cfg := store.JSONMap{
		"webhook_url":  "https://example.com/hook",
		"access_token": "supersecretvalue",
		"api_key":      "abc",
		"timeout":      30,
		"smtp": map[string]interface{}{
			"host":     "mail.example.com",
			"password": "hunter2x",
		},
	}

	masked := MaskChannelConfig(cfg)

	assert.Equal(t, "https://example.com/hook", masked["webhook_url"], "non-sensitive keys pass through")
	assert.Equal(t, "supe****", masked["access_token"])
	assert.Equal(t, "****", masked["api_key"], "values of four or fewer chars mask completely")
	assert.Equal(t, 30, masked["timeout"], "non-string values pass through")

	nested, ok := masked["smtp"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "mail.example.com", nested["host"])
	assert.Equal(t, "hunt****", nested["password"], "nested maps are masked recursively")

	assert.Equal(t, "supersecretvalue", cfg["access_token"], "the stored config is never modified")
	assert.Equal(t, "hunter2x", cfg["smtp"].(map[string]interface{})["password"])
}

func TestSensitiveKey(t *testing.T) {
	for _, k := range []string{"token", "bot_token", "API_KEY", "webhookSecret", "db_password", "aws_credentials"} {
		assert.True(t, sensitiveKey(k), k)
	}
	for _, k := range []string{"url", "host", "timeout", "channel_name"} {
		assert.False(t, sensitiveKey(k), k)
	}
}

func TestMaskedChannel(t *testing.T) {
	ch := &store.NotificationChannel{
		ID:          "c-1",
		ChannelType: "webhook",
		Config:      store.JSONMap{"secret": "topsecret99"},
	}
	out := maskedChannel(ch)
	assert.Equal(t, "tops****", out.Config["secret"])
	assert.Equal(t, "topsecret99", ch.Config["secret"])
	assert.Equal(t, ch.ID, out.ID)
}
