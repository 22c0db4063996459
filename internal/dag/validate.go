// Package dag validates workflow templates and drives executions: it computes
// ready nodes, dispatches their scan tasks, cascades skips past failed
// dependencies, and finalizes the run when every node is terminal.
package dag

import (
	"fmt"

	"github.com/surfacehq/surface/internal/store"
)

// ValidateTemplate rejects templates with duplicate node ids, dangling
// depends_on references, unknown task types, or cycles.
func ValidateTemplate(nodes []store.DAGNode, taskTypes map[string]bool) error {
	if len(nodes) == 0 {
		return fmt.Errorf("template has no nodes")
	}
	byID := make(map[string]*store.DAGNode, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node %d has no id", i)
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		if taskTypes != nil && !taskTypes[n.TaskType] {
			return fmt.Errorf("node %q has unknown task_type %q", n.ID, n.TaskType)
		}
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("node %q depends on undeclared node %q", n.ID, dep)
			}
		}
	}
	return detectCycle(nodes, byID)
}

// detectCycle runs a DFS over the dependency edges keeping a recursion set;
// revisiting a node on the current path means a back-edge.
func detectCycle(nodes []store.DAGNode, byID map[string]*store.DAGNode) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case inStack:
			return fmt.Errorf("cycle detected through node %q", id)
		case done:
			return nil
		}
		state[id] = inStack
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, n := range nodes {
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// readyNodes returns pending nodes whose every dependency is completed.
func readyNodes(nodes []store.DAGNode, states store.StateMap) []string {
	var ready []string
	for _, n := range nodes {
		if states[n.ID] != store.NodePending {
			continue
		}
		ok := true
		for _, dep := range n.DependsOn {
			if states[dep] != store.NodeCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n.ID)
		}
	}
	return ready
}

// blockedNodes returns pending nodes with at least one failed or skipped
// dependency; they can never become ready and cascade to skipped.
func blockedNodes(nodes []store.DAGNode, states store.StateMap) []string {
	var blocked []string
	for _, n := range nodes {
		if states[n.ID] != store.NodePending {
			continue
		}
		for _, dep := range n.DependsOn {
			if states[dep] == store.NodeFailed || states[dep] == store.NodeSkipped {
				blocked = append(blocked, n.ID)
				break
			}
		}
	}
	return blocked
}

func isTerminal(state string) bool {
	switch state {
	case store.NodeCompleted, store.NodeFailed, store.NodeSkipped:
		return true
	}
	return false
}

func allTerminal(nodes []store.DAGNode, states store.StateMap) bool {
	for _, n := range nodes {
		if !isTerminal(states[n.ID]) {
			return false
		}
	}
	return true
}

func anyFailed(nodes []store.DAGNode, states store.StateMap) bool {
	for _, n := range nodes {
		if states[n.ID] == store.NodeFailed {
			return true
		}
	}
	return false
}
