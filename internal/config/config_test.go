package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestValidateRuntime_AuthWithoutKeys(t *testing.T) {
	cfg := &Config{AuthEnabled: true, RedisURL: "redis://localhost:6379/0"}
	err := ValidateRuntime(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EASM_API_KEYS")
}

func TestValidateRuntime_RedisHostPortMismatch(t *testing.T) {
	cfg := &Config{RedisURL: "redis://redis:6380/0"}
	err := ValidateRuntime(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "6379")
}

func TestValidateRuntime_RedisHostDefaultPortOK(t *testing.T) {
	assert.NoError(t, ValidateRuntime(&Config{RedisURL: "redis://redis:6379/0"}))
	assert.NoError(t, ValidateRuntime(&Config{RedisURL: "redis://localhost:6380/0"}))
}

func TestValidateRuntime_MalformedACL(t *testing.T) {
	t.Setenv("EASM_API_KEY_PROJECT_MAP", "{not json")
	err := ValidateRuntime(&Config{RedisURL: "redis://localhost:6379/0"})
	require.Error(t, err)
}

func TestValidAPIKey(t *testing.T) {
	cfg := &Config{APIKeys: []string{"k1", "k2"}}
	assert.True(t, cfg.ValidAPIKey("k1"))
	assert.False(t, cfg.ValidAPIKey("unknown"))

	cfg.APIKeyProjectMap = map[string][]string{"mapped": {"p1"}}
	assert.True(t, cfg.ValidAPIKey("mapped"))
}

func TestKeyAllowsProject(t *testing.T) {
	cfg := &Config{
		APIKeys: []string{"k1"},
		APIKeyProjectMap: map[string][]string{
			"k1":    {"p1", "p2"},
			"admin": {"*"},
		},
	}
	assert.True(t, cfg.KeyAllowsProject("k1", "p1"))
	assert.False(t, cfg.KeyAllowsProject("k1", "p3"))
	assert.True(t, cfg.KeyAllowsProject("admin", "anything"))
	assert.False(t, cfg.KeyAllowsProject("unknown", "p1"))
}

func TestKeyAllowsProject_NoACLMeansAll(t *testing.T) {
	cfg := &Config{APIKeys: []string{"k1"}}
	assert.True(t, cfg.KeyAllowsProject("k1", "any-project"))
	assert.False(t, cfg.KeyAllowsProject("bogus", "any-project"))
}
