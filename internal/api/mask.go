package api

import (
	"strings"

	"github.com/surfacehq/surface/internal/store"
)

// sensitiveFragments marks config keys whose values never leave the API in
// the clear.
var sensitiveFragments = []string{
	"token", "secret", "password", "api_key", "access_token", "key", "credential",
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

func maskValue(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// MaskChannelConfig returns a copy of a channel config with sensitive string
// values replaced by their first four characters plus "****". Nested maps are
// masked recursively; the stored config is never modified.
func MaskChannelConfig(config store.JSONMap) store.JSONMap {
	out := store.JSONMap{}
	for k, v := range config {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = map[string]interface{}(MaskChannelConfig(store.JSONMap(val)))
		case store.JSONMap:
			out[k] = MaskChannelConfig(val)
		case string:
			if sensitiveKey(k) {
				out[k] = maskValue(val)
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

// maskedChannel shallow-copies the channel with its config masked.
func maskedChannel(c *store.NotificationChannel) *store.NotificationChannel {
	cp := *c
	cp.Config = MaskChannelConfig(c.Config)
	return &cp
}
