package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surfacehq/surface/internal/store"
)

func TestMatchFilter_EmptyMatchesAll(t *testing.T) {
	assert.True(t, MatchFilter(nil, store.JSONMap{"severity": "high"}))
	assert.True(t, MatchFilter(store.JSONMap{}, store.JSONMap{"severity": "high"}))
	assert.True(t, MatchFilter(store.JSONMap{}, nil))
}

func TestMatchFilter_ScalarEquality(t *testing.T) {
	filter := store.JSONMap{"severity": "high"}
	assert.True(t, MatchFilter(filter, store.JSONMap{"severity": "high", "extra": "x"}))
	assert.False(t, MatchFilter(filter, store.JSONMap{"severity": "low"}))
}

func TestMatchFilter_MissingKeyNeverMatches(t *testing.T) {
	filter := store.JSONMap{"severity": "high"}
	assert.False(t, MatchFilter(filter, store.JSONMap{"target": "example.com"}))
	assert.False(t, MatchFilter(filter, nil))
}

func TestMatchFilter_ListMembership(t *testing.T) {
	filter := store.JSONMap{"severity": []interface{}{"high", "critical"}}
	assert.True(t, MatchFilter(filter, store.JSONMap{"severity": "critical"}))
	assert.False(t, MatchFilter(filter, store.JSONMap{"severity": "medium"}))
	assert.False(t, MatchFilter(store.JSONMap{"severity": []interface{}{}}, store.JSONMap{"severity": "high"}),
		"empty list can never be satisfied")
}

func TestMatchFilter_NumericTolerance(t *testing.T) {
	// Filters written in Go carry ints; event data decoded from JSON carries
	// float64. Both directions must compare equal.
	assert.True(t, MatchFilter(store.JSONMap{"port": 443}, store.JSONMap{"port": float64(443)}))
	assert.True(t, MatchFilter(store.JSONMap{"port": float64(443)}, store.JSONMap{"port": 443}))
	assert.False(t, MatchFilter(store.JSONMap{"port": 443}, store.JSONMap{"port": float64(8443)}))
	assert.False(t, MatchFilter(store.JSONMap{"port": 443}, store.JSONMap{"port": "443"}),
		"numbers never equal strings")
}

func TestMatchFilter_MultipleKeysAllRequired(t *testing.T) {
	filter := store.JSONMap{
		"severity":   []interface{}{"high", "critical"},
		"asset_type": "subdomain",
	}
	data := store.JSONMap{"severity": "high", "asset_type": "subdomain"}
	assert.True(t, MatchFilter(filter, data))

	data["asset_type"] = "ip"
	assert.False(t, MatchFilter(filter, data), "every filter key must match")
}
