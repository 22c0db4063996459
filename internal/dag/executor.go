package dag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/store"
)

// ExecutePayload is the queue payload for dag.execute.
type ExecutePayload struct {
	ExecutionID string `json:"execution_id"`
}

// NodeCompletedPayload is the queue payload for dag.node_completed.
type NodeCompletedPayload struct {
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Success     bool   `json:"success"`
}

// Executor advances DAG executions. It is stateless; every call loads the
// execution fresh and mutates it under a row lock, so calling Execute again
// after any state change is always safe.
type Executor struct {
	store  *store.Store
	broker queue.Broker
	m      *metrics.Metrics
	logger *log.Logger
}

// NewExecutor wires the executor to its stores.
func NewExecutor(st *store.Store, broker queue.Broker, m *metrics.Metrics) *Executor {
	return &Executor{
		store:  st,
		broker: broker,
		m:      m,
		logger: log.New(log.Writer(), "[DAG] ", log.LstdFlags),
	}
}

// Start moves a pending execution to running and enqueues the first
// iteration. Starting a non-pending execution returns ErrPrecondition.
func (x *Executor) Start(ctx context.Context, execID string) (*store.DAGExecution, error) {
	exec, err := x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
		if e.Status != store.TaskPending {
			return fmt.Errorf("%w: execution is %s", store.ErrPrecondition, e.Status)
		}
		e.Status = store.TaskRunning
		now := time.Now().UTC()
		e.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := queue.Enqueue(ctx, x.broker, queue.TypeExecuteDAG, 5, ExecutePayload{ExecutionID: execID}); err != nil {
		x.failExecution(ctx, execID, fmt.Sprintf("dispatch failed: %v", err))
		return nil, err
	}
	return exec, nil
}

// Cancel marks the execution cancelled and stops further dispatch. Node tasks
// already running follow scan cancellation rules on their own.
func (x *Executor) Cancel(ctx context.Context, execID string) (*store.DAGExecution, error) {
	return x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
		switch e.Status {
		case store.TaskCompleted, store.TaskFailed, store.TaskCancelled:
			return fmt.Errorf("%w: execution is %s", store.ErrPrecondition, e.Status)
		}
		e.Status = store.TaskCancelled
		now := time.Now().UTC()
		e.FinishedAt = &now
		return nil
	})
}

// dispatchSpec is a node the current iteration decided to launch.
type dispatchSpec struct {
	nodeID   string
	taskType string
	config   store.JSONMap
	priority int
}

// Execute runs one scheduler iteration: cascade skips, finalize when all
// nodes are terminal, otherwise launch every ready node.
func (x *Executor) Execute(ctx context.Context, execID string) error {
	tmplCache := map[string]*store.DAGTemplate{}

	var toDispatch []dispatchSpec
	var projectID string
	_, err := x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
		toDispatch = nil
		projectID = e.ProjectID
		if e.Status != store.TaskRunning {
			// Cancelled or already finalized; nothing to schedule.
			return nil
		}
		tmpl, err := x.template(ctx, tmplCache, e.DAGTemplateID)
		if err != nil {
			return err
		}
		nodes := []store.DAGNode(tmpl.Nodes)
		if len(nodes) == 0 {
			x.finalize(e, store.TaskCompleted, "")
			return nil
		}
		for _, n := range nodes {
			if _, ok := e.NodeStates[n.ID]; !ok {
				e.NodeStates[n.ID] = store.NodePending
			}
		}

		ready := readyNodes(nodes, e.NodeStates)
		if len(ready) == 0 {
			for _, id := range blockedNodes(nodes, e.NodeStates) {
				e.NodeStates[id] = store.NodeSkipped
				x.m.DAGNodesTotal.WithLabelValues(store.NodeSkipped).Inc()
			}
			if allTerminal(nodes, e.NodeStates) {
				status := store.TaskCompleted
				if anyFailed(nodes, e.NodeStates) {
					status = store.TaskFailed
				}
				x.finalize(e, status, "")
			}
			// Otherwise nodes are still running; their completions re-enter here.
			return nil
		}

		for _, id := range ready {
			e.NodeStates[id] = store.NodeRunning
			node := nodeByID(nodes, id)
			merged := mergeConfig(e.InputConfig, node.Config)
			toDispatch = append(toDispatch, dispatchSpec{
				nodeID:   id,
				taskType: node.TaskType,
				config:   merged,
				priority: configPriority(merged),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range toDispatch {
		if err := x.launchNode(ctx, execID, projectID, d); err != nil {
			x.logger.Printf("execution %s node %s dispatch failed: %v", execID, d.nodeID, err)
			if _, merr := x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
				e.NodeStates[d.nodeID] = store.NodeFailed
				return nil
			}); merr != nil {
				return merr
			}
			// Re-iterate so the failure cascades.
			return x.Execute(ctx, execID)
		}
	}
	return nil
}

// launchNode creates the node's scan task and pushes it to the scan queue.
func (x *Executor) launchNode(ctx context.Context, execID, projectID string, d dispatchSpec) error {
	task, err := x.store.CreateScanTask(ctx, &store.ScanTask{
		ProjectID: projectID,
		TaskType:  d.taskType,
		Priority:  d.priority,
		Config:    d.config,
	})
	if err != nil {
		return err
	}
	if _, err := x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
		e.NodeTaskIDs[d.nodeID] = task.ID
		return nil
	}); err != nil {
		return err
	}
	if _, err := queue.Enqueue(ctx, x.broker, queue.TypeRunScan, task.Priority,
		map[string]string{"task_id": task.ID}); err != nil {
		return err
	}
	x.m.DAGNodesTotal.WithLabelValues(store.NodeRunning).Inc()
	return nil
}

// OnNodeCompleted records a node's terminal state and enqueues the next
// iteration. This is the sole bridge from the scan runner back into the DAG.
func (x *Executor) OnNodeCompleted(ctx context.Context, execID, nodeID string, success bool) error {
	state := store.NodeCompleted
	if !success {
		state = store.NodeFailed
	}
	_, err := x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
		e.NodeStates[nodeID] = state
		return nil
	})
	if err != nil {
		return err
	}
	x.m.DAGNodesTotal.WithLabelValues(state).Inc()
	_, err = queue.Enqueue(ctx, x.broker, queue.TypeExecuteDAG, 5, ExecutePayload{ExecutionID: execID})
	return err
}

// NotifyTaskFinished reverse-maps a finished scan task onto its DAG node, if
// any. Tasks not owned by an execution are a no-op.
func (x *Executor) NotifyTaskFinished(ctx context.Context, taskID string, success bool) error {
	exec, nodeID, err := x.store.FindExecutionByTaskID(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = queue.Enqueue(ctx, x.broker, queue.TypeNodeCompleted, 5, NodeCompletedPayload{
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Success:     success,
	})
	return err
}

func (x *Executor) template(ctx context.Context, cache map[string]*store.DAGTemplate, id string) (*store.DAGTemplate, error) {
	if t, ok := cache[id]; ok {
		return t, nil
	}
	t, err := x.store.GetDAGTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTemplate(t.Nodes, nil); err != nil {
		return nil, fmt.Errorf("template %s invalid: %w", id, err)
	}
	cache[id] = t
	return t, nil
}

func (x *Executor) finalize(e *store.DAGExecution, status, errMsg string) {
	e.Status = status
	e.ErrorMessage = errMsg
	now := time.Now().UTC()
	e.FinishedAt = &now
	x.m.DAGExecutionsTotal.WithLabelValues(status).Inc()
}

func (x *Executor) failExecution(ctx context.Context, execID, msg string) {
	if _, err := x.store.MutateExecution(ctx, execID, func(e *store.DAGExecution) error {
		x.finalize(e, store.TaskFailed, msg)
		return nil
	}); err != nil {
		x.logger.Printf("execution %s could not be failed: %v", execID, err)
	}
}

func nodeByID(nodes []store.DAGNode, id string) *store.DAGNode {
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i]
		}
	}
	return nil
}

// mergeConfig overlays node config on the execution input, node keys winning.
func mergeConfig(base, overlay store.JSONMap) store.JSONMap {
	out := store.JSONMap{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// configPriority reads the dispatch priority from a merged node config,
// defaulting to 5 and clamping to the API range 1..10.
func configPriority(cfg store.JSONMap) int {
	p := 5
	switch n := cfg["priority"].(type) {
	case float64:
		p = int(n)
	case int:
		p = n
	case int64:
		p = int(n)
	}
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}
