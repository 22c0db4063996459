package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/surfacehq/surface/internal/dag"
	"github.com/surfacehq/surface/internal/events"
	"github.com/surfacehq/surface/internal/fingerprint"
	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/ratelimit"
	"github.com/surfacehq/surface/internal/store"
)

// RunPayload is the queue payload for scan.run.
type RunPayload struct {
	TaskID string `json:"task_id"`
}

// VulnAlertPayload is the queue payload for alert.check_vulnerability.
type VulnAlertPayload struct {
	ProjectID       string `json:"project_id"`
	VulnerabilityID string `json:"vulnerability_id"`
	Severity        string `json:"severity"`
	Name            string `json:"name"`
	TargetURL       string `json:"target_url"`
	TemplateID      string `json:"template_id"`
}

// Options tunes runner behavior from the environment.
type Options struct {
	VerifyTLS     bool
	ScreenshotDir string
}

// Runner executes one scan task end to end.
type Runner struct {
	store    *store.Store
	broker   queue.Broker
	limiter  *ratelimit.Limiter
	executor *dag.Executor
	bus      events.Bus
	engine   func() *fingerprint.Engine
	m        *metrics.Metrics
	opts     Options
	logger   *log.Logger
}

// NewRunner wires the runner. engine is called per task so rule hot-reloads
// take effect without restarting workers.
func NewRunner(st *store.Store, broker queue.Broker, limiter *ratelimit.Limiter,
	executor *dag.Executor, bus events.Bus, engine func() *fingerprint.Engine,
	m *metrics.Metrics, opts Options) *Runner {
	return &Runner{
		store:    st,
		broker:   broker,
		limiter:  limiter,
		executor: executor,
		bus:      bus,
		engine:   engine,
		m:        m,
		opts:     opts,
		logger:   log.New(log.Writer(), "[SCAN] ", log.LstdFlags),
	}
}

// handlerFunc runs one task type and returns the result summary.
type handlerFunc func(ctx context.Context, task *store.ScanTask) (store.JSONMap, error)

func (r *Runner) handler(taskType string) handlerFunc {
	switch taskType {
	case TypeSubdomainScan:
		return r.runSubdomainScan
	case TypeDNSResolve:
		return r.runDNSResolve
	case TypePortScan:
		return r.runPortScan
	case TypeHTTPProbe:
		return r.runHTTPProbe
	case TypeFingerprint:
		return r.runFingerprint
	case TypeScreenshot:
		return r.runScreenshot
	case TypeNucleiScan:
		return r.runNucleiScan
	case TypeXrayScan:
		return r.runXrayScan
	case TypeJSAPIDiscovery:
		return r.runJSAPIDiscovery
	}
	return nil
}

// HandleTask is the scan.run queue entry point. The pending->running
// conditional update is the serialization point: a second worker pulling the
// same task sees ErrConflict and drops it.
func (r *Runner) HandleTask(ctx context.Context, taskID string) error {
	task, err := r.store.GetScanTask(ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case store.TaskPending:
		// DAG-dispatched tasks arrive pending; the conditional update is the
		// serialization point.
		task, err = r.store.TransitionScanTask(ctx, taskID, store.TaskPending, store.TaskRunning)
		if err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrPrecondition) {
				r.logger.Printf("task %s not startable: %v", taskID, err)
				return nil
			}
			return err
		}
	case store.TaskRunning:
		// Started through the API before dispatch; proceed.
	default:
		r.logger.Printf("task %s is %s, dropping", taskID, task.Status)
		return nil
	}

	started := time.Now()
	summary, runErr := r.execute(ctx, task)
	r.m.ScanTaskDuration.WithLabelValues(task.TaskType).Observe(time.Since(started).Seconds())

	if runErr != nil {
		r.finishTask(ctx, task, summary, runErr)
		return nil
	}
	r.finishTask(ctx, task, summary, nil)
	return nil
}

// execute enforces the rate budget then delegates to the type handler.
func (r *Runner) execute(ctx context.Context, task *store.ScanTask) (store.JSONMap, error) {
	h := r.handler(task.TaskType)
	if h == nil {
		return nil, fmt.Errorf("unknown task type %q", task.TaskType)
	}

	project, err := r.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	var override map[string]interface{}
	if m, ok := task.Config["rate_limit_config"].(map[string]interface{}); ok {
		override = m
	}
	cfg := ratelimit.EffectiveConfig(project.RateLimitConfig, override)
	if !r.limiter.WaitIfNeeded(ctx, task.ProjectID, cfg.MaxRequestsPerSecond, 1, 10*time.Second) {
		r.m.RateLimitRejections.WithLabelValues("scan").Inc()
		return nil, fmt.Errorf("rate limit wait timed out for project %s", task.ProjectID)
	}

	return h(ctx, task)
}

// finishTask records the summary, moves the task to its terminal status, and
// fans out completion: DAG callback, bus event, terminal metrics. A late
// terminal write against a cancelled task is absorbed by the store.
func (r *Runner) finishTask(ctx context.Context, task *store.ScanTask, summary store.JSONMap, runErr error) {
	success := runErr == nil
	errMsg := ""
	target := store.TaskCompleted
	if !success {
		errMsg = runErr.Error()
		target = store.TaskFailed
		r.logger.Printf("task %s (%s) failed: %v", task.ID, task.TaskType, runErr)
	}

	if err := r.store.SetScanTaskResult(ctx, task.ID, summary, errMsg); err != nil {
		r.logger.Printf("task %s result not recorded: %v", task.ID, err)
	}
	final, err := r.store.TransitionScanTask(ctx, task.ID, store.TaskRunning, target)
	if err != nil {
		r.logger.Printf("task %s terminal transition failed: %v", task.ID, err)
		return
	}
	r.m.ScanTasksTotal.WithLabelValues(task.TaskType, final.Status).Inc()

	// Cancellation won; do not advance the DAG or emit completion.
	if final.Status == store.TaskCancelled {
		return
	}

	if err := r.executor.NotifyTaskFinished(ctx, task.ID, success); err != nil {
		r.logger.Printf("task %s DAG notify failed: %v", task.ID, err)
	}

	evType := events.TypeScanCompleted
	if !success {
		evType = events.TypeScanFailed
	}
	ev := events.Event{
		ProjectID: task.ProjectID,
		Type:      evType,
		Data: store.JSONMap{
			"scan_task_id": task.ID,
			"task_type":    task.TaskType,
		},
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.logger.Printf("task %s event publish failed: %v", task.ID, err)
	}
	if _, err := queue.Enqueue(ctx, r.broker, queue.TypeProcessEvent, 5, ev); err != nil {
		r.logger.Printf("task %s event dispatch failed: %v", task.ID, err)
	}
}

// recordVulnerability upserts a finding and fans out the alert check and
// vuln_found event.
func (r *Runner) recordVulnerability(ctx context.Context, v *store.Vulnerability) error {
	row, err := r.store.UpsertVulnerability(ctx, v)
	if err != nil {
		return err
	}
	_, err = queue.Enqueue(ctx, r.broker, queue.TypeCheckVulnAlert, 5, VulnAlertPayload{
		ProjectID:       row.ProjectID,
		VulnerabilityID: row.ID,
		Severity:        row.Severity,
		Name:            row.Name,
		TargetURL:       row.TargetURL,
		TemplateID:      row.TemplateID,
	})
	if err != nil {
		r.logger.Printf("vulnerability %s alert dispatch failed: %v", row.ID, err)
	}
	ev := events.Event{
		ProjectID: row.ProjectID,
		Type:      events.TypeVulnFound,
		Data: store.JSONMap{
			"asset_id":   row.ID,
			"asset_type": "vulnerability",
			"severity":   row.Severity,
			"target":     row.TargetURL,
			"source":     row.Source,
		},
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.logger.Printf("vulnerability %s event publish failed: %v", row.ID, err)
	}
	if _, err := queue.Enqueue(ctx, r.broker, queue.TypeProcessEvent, 5, ev); err != nil {
		r.logger.Printf("vulnerability %s event dispatch failed: %v", row.ID, err)
	}
	return nil
}

// configTargets reads the task's explicit target list. Handlers fall back to
// stored assets when empty.
func configTargets(cfg store.JSONMap) []string {
	var out []string
	if raw, ok := cfg["targets"].([]interface{}); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	if s, ok := cfg["target"].(string); ok && s != "" {
		out = append(out, s)
	}
	return out
}
