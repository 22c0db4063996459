package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surfacehq/surface/internal/store"
)

func TestScoreToSeverity_Bands(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{100, "critical"},
		{80, "critical"},
		{79.99, "high"},
		{60, "high"},
		{59.99, "medium"},
		{40, "medium"},
		{39.99, "low"},
		{20, "low"},
		{19.99, "info"},
		{0, "info"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ScoreToSeverity(c.score), "score %.2f", c.score)
	}
}

func TestDefaultFactors(t *testing.T) {
	factors := defaultFactors()
	assert.Len(t, factors, 2)

	byType := map[string]float64{}
	for _, f := range factors {
		assert.True(t, f.Enabled)
		byType[f.FactorType] = f.Weight
	}
	assert.Equal(t, 0.6, byType["vulnerability"])
	assert.Equal(t, 0.4, byType["exposure"])
}

func TestCustomFactor(t *testing.T) {
	res := customFactor(store.JSONMap{"score": 55.5})
	assert.Equal(t, 55.5, res.Score)

	res = customFactor(store.JSONMap{"score": 30})
	assert.Equal(t, 30.0, res.Score, "int rule values are accepted")

	assert.Equal(t, 0.0, customFactor(store.JSONMap{}).Score, "unknown rules score zero")
	assert.Equal(t, 0.0, customFactor(nil).Score)
	assert.Equal(t, 100.0, customFactor(store.JSONMap{"score": 250.0}).Score, "scores clamp to 100")
	assert.Equal(t, 0.0, customFactor(store.JSONMap{"score": -10.0}).Score, "scores clamp to 0")
	assert.Equal(t, 0.0, customFactor(store.JSONMap{"score": "high"}).Score, "non-numeric rules score zero")
}

func TestHighRiskPorts(t *testing.T) {
	for _, p := range []int{22, 23, 25, 445, 3389, 1433, 3306, 5432, 6379, 27017} {
		assert.True(t, highRiskPorts[p], "port %d is high risk", p)
	}
	assert.False(t, highRiskPorts[80])
	assert.False(t, highRiskPorts[443])
}
