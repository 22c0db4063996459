package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surfacehq/surface/internal/store"
)

var knownTypes = map[string]bool{
	"subdomain_scan": true,
	"port_scan":      true,
	"url_scan":       true,
	"nuclei_scan":    true,
}

func diamond() []store.DAGNode {
	return []store.DAGNode{
		{ID: "discover", TaskType: "subdomain_scan"},
		{ID: "ports", TaskType: "port_scan", DependsOn: []string{"discover"}},
		{ID: "urls", TaskType: "url_scan", DependsOn: []string{"discover"}},
		{ID: "vulns", TaskType: "nuclei_scan", DependsOn: []string{"ports", "urls"}},
	}
}

func TestValidateTemplate_AcceptsDiamond(t *testing.T) {
	assert.NoError(t, ValidateTemplate(diamond(), knownTypes))
}

func TestValidateTemplate_Empty(t *testing.T) {
	err := ValidateTemplate(nil, knownTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nodes")
}

func TestValidateTemplate_DuplicateID(t *testing.T) {
	nodes := []store.DAGNode{
		{ID: "a", TaskType: "port_scan"},
		{ID: "a", TaskType: "url_scan"},
	}
	err := ValidateTemplate(nodes, knownTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateTemplate_UnknownTaskType(t *testing.T) {
	nodes := []store.DAGNode{{ID: "a", TaskType: "teleport_scan"}}
	err := ValidateTemplate(nodes, knownTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport_scan")

	// A nil type map skips the check entirely.
	assert.NoError(t, ValidateTemplate(nodes, nil))
}

func TestValidateTemplate_DanglingDependency(t *testing.T) {
	nodes := []store.DAGNode{
		{ID: "a", TaskType: "port_scan", DependsOn: []string{"ghost"}},
	}
	err := ValidateTemplate(nodes, knownTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestValidateTemplate_Cycle(t *testing.T) {
	nodes := []store.DAGNode{
		{ID: "a", TaskType: "port_scan", DependsOn: []string{"c"}},
		{ID: "b", TaskType: "url_scan", DependsOn: []string{"a"}},
		{ID: "c", TaskType: "nuclei_scan", DependsOn: []string{"b"}},
	}
	err := ValidateTemplate(nodes, knownTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateTemplate_SelfCycle(t *testing.T) {
	nodes := []store.DAGNode{{ID: "a", TaskType: "port_scan", DependsOn: []string{"a"}}}
	assert.Error(t, ValidateTemplate(nodes, knownTypes))
}

func TestReadyNodes(t *testing.T) {
	nodes := diamond()

	states := store.StateMap{
		"discover": store.NodePending,
		"ports":    store.NodePending,
		"urls":     store.NodePending,
		"vulns":    store.NodePending,
	}
	assert.Equal(t, []string{"discover"}, readyNodes(nodes, states), "only the root is ready at start")

	states["discover"] = store.NodeCompleted
	assert.ElementsMatch(t, []string{"ports", "urls"}, readyNodes(nodes, states))

	states["ports"] = store.NodeCompleted
	assert.Empty(t, readyNodes(nodes, states), "vulns waits for both branches")

	states["urls"] = store.NodeCompleted
	assert.Equal(t, []string{"vulns"}, readyNodes(nodes, states))
}

func TestBlockedNodes_FailureCascade(t *testing.T) {
	nodes := diamond()
	states := store.StateMap{
		"discover": store.NodeCompleted,
		"ports":    store.NodeFailed,
		"urls":     store.NodeRunning,
		"vulns":    store.NodePending,
	}
	assert.Equal(t, []string{"vulns"}, blockedNodes(nodes, states))

	// A skipped dependency blocks the same way, so cascades propagate.
	states["vulns"] = store.NodeSkipped
	more := []store.DAGNode{
		{ID: "report", TaskType: "url_scan", DependsOn: []string{"vulns"}},
	}
	reportStates := store.StateMap{"vulns": store.NodeSkipped, "report": store.NodePending}
	assert.Equal(t, []string{"report"}, blockedNodes(more, reportStates))
}

func TestAllTerminalAndAnyFailed(t *testing.T) {
	nodes := diamond()
	states := store.StateMap{
		"discover": store.NodeCompleted,
		"ports":    store.NodeFailed,
		"urls":     store.NodeCompleted,
		"vulns":    store.NodeSkipped,
	}
	assert.True(t, allTerminal(nodes, states))
	assert.True(t, anyFailed(nodes, states))

	states["ports"] = store.NodeCompleted
	states["vulns"] = store.NodeCompleted
	assert.False(t, anyFailed(nodes, states))

	states["vulns"] = store.NodeRunning
	assert.False(t, allTerminal(nodes, states))
}
