package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingBroker struct {
	class string
	task  *Task
}

func (b *capturingBroker) Push(_ context.Context, class string, task *Task) error {
	b.class = class
	b.task = task
	return nil
}

func (b *capturingBroker) Pull(_ context.Context, _ []string, _ time.Duration) (*Task, error) {
	return nil, nil
}

func TestToBrokerPriority(t *testing.T) {
	cases := []struct {
		api, broker int
	}{
		{1, 0},
		{5, 4},
		{10, 9},
		{0, 0},   // clamped up
		{-3, 0},  // clamped up
		{11, 9},  // clamped down
		{100, 9}, // clamped down
	}
	for _, c := range cases {
		assert.Equal(t, c.broker, ToBrokerPriority(c.api), "api priority %d", c.api)
	}
}

func TestClassFor(t *testing.T) {
	assert.Equal(t, ClassScan, ClassFor(TypeRunScan))
	assert.Equal(t, ClassOrchestration, ClassFor(TypeExecuteDAG))
	assert.Equal(t, ClassOrchestration, ClassFor(TypeNodeCompleted))
	assert.Equal(t, ClassOrchestration, ClassFor(TypeProcessEvent))
	assert.Equal(t, ClassAlerting, ClassFor(TypeCheckVulnAlert))
	assert.Equal(t, ClassAlerting, ClassFor(TypeCheckRiskAlert))
	assert.Equal(t, ClassAlerting, ClassFor(TypeSendNotify))
	assert.Equal(t, ClassAlerting, ClassFor(TypeTestChannel))
	assert.Equal(t, ClassDefault, ClassFor(TypeCalculateRisk))
	assert.Equal(t, ClassDefault, ClassFor("unknown.type"), "unrouted types fall back to default")
}

func TestAllClasses(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{ClassScan, ClassOrchestration, ClassAlerting, ClassDefault},
		AllClasses())
}

func TestEnqueue(t *testing.T) {
	broker := &capturingBroker{}
	payload := map[string]string{"task_id": "t-1"}

	task, err := Enqueue(context.Background(), broker, TypeRunScan, 8, payload)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, ClassScan, broker.class, "scan.run routes to the scan class")
	assert.Same(t, task, broker.task)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TypeRunScan, task.Type)
	assert.Equal(t, 7, task.Priority, "api priority 8 maps to broker 7")
	assert.False(t, task.EnqueuedAt.IsZero())

	var got map[string]string
	require.NoError(t, json.Unmarshal(task.Payload, &got))
	assert.Equal(t, "t-1", got["task_id"])
}

func TestRedisBrokerKeys(t *testing.T) {
	b := NewRedisBroker(nil, "")
	assert.Equal(t, "surface:queue:scan", b.key(ClassScan), "empty prefix takes the delimited default")

	b = NewRedisBroker(nil, "surface:queue:")
	assert.Equal(t, "surface:queue:default", b.key(ClassDefault))
	assert.Equal(t, "surface:queue:alerting", b.key(ClassAlerting))
}

func TestEnqueue_UnmarshalablePayload(t *testing.T) {
	broker := &capturingBroker{}
	_, err := Enqueue(context.Background(), broker, TypeRunScan, 5, make(chan int))
	require.Error(t, err)
	assert.Nil(t, broker.task, "nothing is pushed when marshalling fails")
}
