package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionAllowed(t *testing.T) {
	allowed := []struct{ from, to string }{
		{TaskPending, TaskRunning},
		{TaskPending, TaskCancelled},
		{TaskRunning, TaskPaused},
		{TaskRunning, TaskCompleted},
		{TaskRunning, TaskFailed},
		{TaskRunning, TaskCancelled},
		{TaskPaused, TaskRunning},
		{TaskPaused, TaskCancelled},
	}
	for _, c := range allowed {
		assert.True(t, transitionAllowed(c.from, c.to), "%s -> %s must be legal", c.from, c.to)
	}

	rejected := []struct{ from, to string }{
		{TaskPending, TaskPaused},
		{TaskPending, TaskCompleted},
		{TaskPending, TaskFailed},
		{TaskPaused, TaskCompleted},
		{TaskPaused, TaskFailed},
		{TaskCompleted, TaskRunning},
		{TaskFailed, TaskRunning},
		{TaskCancelled, TaskRunning},
		{TaskCancelled, TaskCompleted},
		{TaskRunning, TaskRunning},
	}
	for _, c := range rejected {
		assert.False(t, transitionAllowed(c.from, c.to), "%s -> %s must be rejected", c.from, c.to)
	}
}

func TestAlertMoveAllowed(t *testing.T) {
	assert.True(t, alertMoveAllowed(AlertPending, AlertSent))
	assert.True(t, alertMoveAllowed(AlertSent, AlertAcknowledged))
	assert.True(t, alertMoveAllowed(AlertPending, AlertResolved), "resolve is allowed from any non-resolved state")
	assert.True(t, alertMoveAllowed(AlertSent, AlertResolved))
	assert.True(t, alertMoveAllowed(AlertAcknowledged, AlertResolved))

	assert.False(t, alertMoveAllowed(AlertSent, AlertSent))
	assert.False(t, alertMoveAllowed(AlertPending, AlertAcknowledged), "acknowledge requires sent first")
	assert.False(t, alertMoveAllowed(AlertResolved, AlertResolved))
	assert.False(t, alertMoveAllowed(AlertResolved, AlertSent))
	assert.False(t, alertMoveAllowed(AlertAcknowledged, AlertPending))
}

func TestPageLimit(t *testing.T) {
	assert.Equal(t, 100, pageLimit(0))
	assert.Equal(t, 100, pageLimit(-5))
	assert.Equal(t, 100, pageLimit(501))
	assert.Equal(t, 500, pageLimit(500))
	assert.Equal(t, 1, pageLimit(1))
	assert.Equal(t, 42, pageLimit(42))
}
