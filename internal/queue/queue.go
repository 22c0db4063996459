// Package queue implements the priority-aware pull queue the workers consume.
//
// Tasks are routed into named classes (default, scan, orchestration, alerting)
// and ordered by priority 0..9 within a class, FIFO inside a priority band.
// The broker is Redis so any number of stateless worker processes can pull.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue classes. Every task type maps onto exactly one.
const (
	ClassDefault       = "default"
	ClassScan          = "scan"
	ClassOrchestration = "orchestration"
	ClassAlerting      = "alerting"
)

// Task type names carried on the wire.
const (
	TypeRunScan         = "scan.run"
	TypeExecuteDAG      = "dag.execute"
	TypeNodeCompleted   = "dag.node_completed"
	TypeProcessEvent    = "event.process"
	TypeCheckVulnAlert  = "alert.check_vulnerability"
	TypeCheckRiskAlert  = "alert.check_risk_score"
	TypeSendNotify      = "alert.send_notification"
	TypeCalculateRisk   = "risk.calculate"
	TypeTestChannel     = "alert.test_channel"
)

// routing maps task types to their queue class.
var routing = map[string]string{
	TypeRunScan:        ClassScan,
	TypeExecuteDAG:     ClassOrchestration,
	TypeNodeCompleted:  ClassOrchestration,
	TypeProcessEvent:   ClassOrchestration,
	TypeCheckVulnAlert: ClassAlerting,
	TypeCheckRiskAlert: ClassAlerting,
	TypeSendNotify:     ClassAlerting,
	TypeTestChannel:    ClassAlerting,
	TypeCalculateRisk:  ClassDefault,
}

// ClassFor returns the queue class a task type routes to.
func ClassFor(taskType string) string {
	if c, ok := routing[taskType]; ok {
		return c
	}
	return ClassDefault
}

// AllClasses lists every queue class a full worker subscribes to.
func AllClasses() []string {
	return []string{ClassScan, ClassOrchestration, ClassAlerting, ClassDefault}
}

// Task is the broker envelope.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Priority   int             `json:"priority"` // broker range 0..9, 9 first
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Broker moves task envelopes between producers and workers.
type Broker interface {
	// Push enqueues a task onto the class queue at its priority.
	Push(ctx context.Context, class string, task *Task) error
	// Pull blocks up to timeout for the best task across the given classes.
	// Returns nil, nil on timeout.
	Pull(ctx context.Context, classes []string, timeout time.Duration) (*Task, error)
}

// ToBrokerPriority converts the API priority range 1..10 into the broker
// range 0..9, clamping out-of-range input. The API default 5 maps to 4.
func ToBrokerPriority(apiPriority int) int {
	if apiPriority < 1 {
		apiPriority = 1
	}
	if apiPriority > 10 {
		apiPriority = 10
	}
	return apiPriority - 1
}

// Enqueue marshals payload and pushes it onto the routed queue.
// apiPriority uses the 1..10 API range.
func Enqueue(ctx context.Context, broker Broker, taskType string, apiPriority int, payload interface{}) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", taskType, err)
	}
	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Priority:   ToBrokerPriority(apiPriority),
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := broker.Push(ctx, ClassFor(taskType), task); err != nil {
		return nil, fmt.Errorf("push %s: %w", taskType, err)
	}
	return task, nil
}
