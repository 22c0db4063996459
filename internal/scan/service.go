package scan

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/store"
)

// Service implements the API-facing scan lifecycle: policy-resolved creation
// and the start/pause/resume/cancel verbs.
type Service struct {
	store  *store.Store
	broker queue.Broker
	logger *log.Logger
}

// NewService wires the scan lifecycle service.
func NewService(st *store.Store, broker queue.Broker) *Service {
	return &Service{
		store:  st,
		broker: broker,
		logger: log.New(log.Writer(), "[SCAN] ", log.LstdFlags),
	}
}

// CreateRequest is the scan creation body.
type CreateRequest struct {
	TaskType string        `json:"task_type"`
	PolicyID string        `json:"policy_id,omitempty"`
	Priority int           `json:"priority,omitempty"`
	Config   store.JSONMap `json:"config,omitempty"`
}

// ErrPolicyDisabled rejects explicit use of a disabled policy.
var ErrPolicyDisabled = errors.New("scan policy is disabled")

// Create builds a pending scan task. An explicit policy must belong to the
// project and be enabled; otherwise the project default applies when one is
// marked, a disabled default is silently dropped. Effective config is
// policy.scan_config overlaid with the request config, request winning.
func (s *Service) Create(ctx context.Context, projectID string, req CreateRequest) (*store.ScanTask, error) {
	if !TaskTypes[req.TaskType] {
		return nil, fmt.Errorf("unknown task_type %q", req.TaskType)
	}
	priority := req.Priority
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("priority must be in [1, 10]")
	}

	var policy *store.ScanPolicy
	if req.PolicyID != "" {
		p, err := s.store.GetScanPolicy(ctx, req.PolicyID)
		if err != nil {
			return nil, err
		}
		if p.ProjectID != projectID {
			return nil, store.ErrNotFound
		}
		if !p.Enabled {
			return nil, ErrPolicyDisabled
		}
		policy = p
	} else {
		p, err := s.store.DefaultScanPolicy(ctx, projectID)
		if err == nil && p.Enabled {
			policy = p
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	config := store.JSONMap{}
	policyID := ""
	if policy != nil {
		policyID = policy.ID
		for k, v := range policy.ScanConfig {
			config[k] = v
		}
	}
	for k, v := range req.Config {
		config[k] = v
	}

	return s.store.CreateScanTask(ctx, &store.ScanTask{
		ProjectID:    projectID,
		ScanPolicyID: policyID,
		TaskType:     req.TaskType,
		Priority:     priority,
		Config:       config,
	})
}

// Start moves the task to running and dispatches it. The conditional update
// means exactly one of two racing starts wins; the loser sees ErrConflict.
// A dispatch failure fails the task rather than leaving a running orphan.
func (s *Service) Start(ctx context.Context, taskID string) (*store.ScanTask, error) {
	task, err := s.store.TransitionScanTask(ctx, taskID, store.TaskPending, store.TaskRunning)
	if err != nil {
		return nil, err
	}
	if _, err := queue.Enqueue(ctx, s.broker, queue.TypeRunScan, task.Priority, RunPayload{TaskID: taskID}); err != nil {
		s.logger.Printf("task %s dispatch failed: %v", taskID, err)
		if serr := s.store.SetScanTaskResult(ctx, taskID, nil, fmt.Sprintf("dispatch failed: %v", err)); serr != nil {
			s.logger.Printf("task %s error not recorded: %v", taskID, serr)
		}
		if _, terr := s.store.TransitionScanTask(ctx, taskID, store.TaskRunning, store.TaskFailed); terr != nil {
			s.logger.Printf("task %s could not be failed: %v", taskID, terr)
		}
		return nil, err
	}
	return task, nil
}

// Pause suspends a running task. The worker's eventual terminal write still
// applies; pause affects dispatch, not an in-flight subprocess.
func (s *Service) Pause(ctx context.Context, taskID string) (*store.ScanTask, error) {
	return s.store.TransitionScanTask(ctx, taskID, store.TaskRunning, store.TaskPaused)
}

// Resume returns a paused task to pending and re-dispatches it.
func (s *Service) Resume(ctx context.Context, taskID string) (*store.ScanTask, error) {
	task, err := s.store.TransitionScanTask(ctx, taskID, store.TaskPaused, store.TaskPending)
	if err != nil {
		return nil, err
	}
	if _, err := queue.Enqueue(ctx, s.broker, queue.TypeRunScan, task.Priority, RunPayload{TaskID: taskID}); err != nil {
		return nil, err
	}
	return task, nil
}

// Cancel terminates from pending, running, or paused. Cancelled is absorbing:
// a late completed/failed from a worker is ignored by the store.
func (s *Service) Cancel(ctx context.Context, taskID string) (*store.ScanTask, error) {
	task, err := s.store.GetScanTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch task.Status {
	case store.TaskPending, store.TaskRunning, store.TaskPaused:
		return s.store.TransitionScanTask(ctx, taskID, task.Status, store.TaskCancelled)
	case store.TaskCancelled:
		return task, nil
	}
	return nil, fmt.Errorf("%w: task is %s", store.ErrPrecondition, task.Status)
}

// Update patches config and priority on a pending or paused task.
func (s *Service) Update(ctx context.Context, taskID string, config store.JSONMap, priority *int) (*store.ScanTask, error) {
	task, err := s.store.GetScanTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != store.TaskPending && task.Status != store.TaskPaused {
		return nil, fmt.Errorf("%w: task is %s", store.ErrPrecondition, task.Status)
	}
	if priority != nil {
		if *priority < 1 || *priority > 10 {
			return nil, fmt.Errorf("priority must be in [1, 10]")
		}
		task.Priority = *priority
	}
	if config != nil {
		task.Config = config
	}
	if err := s.store.UpdateScanTaskConfig(ctx, taskID, task.Config, task.Priority); err != nil {
		return nil, err
	}
	return s.store.GetScanTask(ctx, taskID)
}
