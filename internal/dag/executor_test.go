package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surfacehq/surface/internal/store"
)

func TestMergeConfig(t *testing.T) {
	base := store.JSONMap{"target": "example.com", "priority": float64(8)}
	overlay := store.JSONMap{"ports": "top-1000"}

	merged := mergeConfig(base, overlay)
	assert.Equal(t, "example.com", merged["target"])
	assert.Equal(t, "top-1000", merged["ports"])
	assert.Equal(t, float64(8), merged["priority"])

	merged = mergeConfig(base, store.JSONMap{"target": "other.com"})
	assert.Equal(t, "other.com", merged["target"], "node config wins over execution input")
	assert.Equal(t, "example.com", base["target"], "inputs are not mutated")
}

func TestConfigPriority(t *testing.T) {
	assert.Equal(t, 5, configPriority(store.JSONMap{}), "absent priority defaults to 5")
	assert.Equal(t, 5, configPriority(nil))
	assert.Equal(t, 8, configPriority(store.JSONMap{"priority": float64(8)}), "JSON-decoded numbers are read")
	assert.Equal(t, 3, configPriority(store.JSONMap{"priority": 3}))
	assert.Equal(t, 1, configPriority(store.JSONMap{"priority": 0}), "values clamp into 1..10")
	assert.Equal(t, 1, configPriority(store.JSONMap{"priority": -2}))
	assert.Equal(t, 10, configPriority(store.JSONMap{"priority": float64(99)}))
	assert.Equal(t, 5, configPriority(store.JSONMap{"priority": "high"}), "non-numeric values fall back to the default")
}

func TestConfigPriority_FlowsFromMergedConfig(t *testing.T) {
	// An execution input that sets priority must reach every node dispatch,
	// with node config able to override it.
	input := store.JSONMap{"priority": float64(8)}
	node := store.DAGNode{ID: "ports", TaskType: "port_scan"}
	assert.Equal(t, 8, configPriority(mergeConfig(input, node.Config)))

	node.Config = store.JSONMap{"priority": float64(2)}
	assert.Equal(t, 2, configPriority(mergeConfig(input, node.Config)))
}
