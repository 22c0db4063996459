package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"reflect"

	"github.com/surfacehq/surface/internal/dag"
	"github.com/surfacehq/surface/internal/store"
)

// safeEventFields is the whitelist of event data keys forwarded into a DAG's
// input config. Everything else is dropped so event payloads cannot override
// trigger policy.
var safeEventFields = map[string]bool{
	"asset_id":     true,
	"asset_type":   true,
	"scan_task_id": true,
	"task_type":    true,
	"severity":     true,
	"target":       true,
	"source":       true,
}

// Router maps emitted events onto enabled triggers and launches their DAGs.
// Duplicate events produce duplicate executions; dedup is the producer's job.
type Router struct {
	store    *store.Store
	executor *dag.Executor
	logger   *log.Logger
}

// NewRouter wires the router.
func NewRouter(st *store.Store, executor *dag.Executor) *Router {
	return &Router{
		store:    st,
		executor: executor,
		logger:   log.New(log.Writer(), "[ROUTER] ", log.LstdFlags),
	}
}

// Emit evaluates every enabled trigger for the event type and starts a DAG
// execution per match. Returns the execution ids it launched.
func (r *Router) Emit(ctx context.Context, ev Event) ([]string, error) {
	triggers, err := r.store.ListEnabledTriggersForEvent(ctx, ev.ProjectID, ev.Type)
	if err != nil {
		return nil, err
	}
	var launched []string
	for _, trig := range triggers {
		if !MatchFilter(trig.FilterConfig, ev.Data) {
			continue
		}
		execID, err := r.fire(ctx, trig, ev)
		if err != nil {
			r.logger.Printf("trigger %s (%s) failed: %v", trig.ID, trig.Name, err)
			if cerr := r.store.IncrementTriggerCount(ctx, trig.ID, false); cerr != nil {
				r.logger.Printf("trigger %s count update failed: %v", trig.ID, cerr)
			}
			continue
		}
		if cerr := r.store.IncrementTriggerCount(ctx, trig.ID, true); cerr != nil {
			r.logger.Printf("trigger %s count update failed: %v", trig.ID, cerr)
		}
		launched = append(launched, execID)
	}
	return launched, nil
}

// fire resolves the trigger's template and starts one execution for it.
func (r *Router) fire(ctx context.Context, trig *store.EventTrigger, ev Event) (string, error) {
	tmpl, err := r.store.GetDAGTemplate(ctx, trig.DAGTemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errors.New("template missing")
		}
		return "", err
	}
	if !tmpl.Enabled {
		return "", errors.New("template disabled")
	}

	input := store.JSONMap{}
	for k, v := range ev.Data {
		if safeEventFields[k] {
			input[k] = v
		}
	}
	for k, v := range trig.DAGConfig {
		input[k] = v
	}

	exec, err := r.store.CreateDAGExecution(ctx, &store.DAGExecution{
		ProjectID:     ev.ProjectID,
		DAGTemplateID: tmpl.ID,
		TriggerType:   "event",
		TriggerEvent:  store.JSONMap{"type": ev.Type, "data": map[string]interface{}(ev.Data)},
		InputConfig:   input,
	})
	if err != nil {
		return "", err
	}
	if _, err := r.executor.Start(ctx, exec.ID); err != nil {
		return "", err
	}
	return exec.ID, nil
}

// MatchFilter decides whether an event satisfies a trigger's filter. Scalars
// require equality, lists require membership, a key absent from the event
// never matches. An empty filter matches everything.
func MatchFilter(filter store.JSONMap, data store.JSONMap) bool {
	for key, want := range filter {
		got, ok := data[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []interface{}:
			found := false
			for _, item := range w {
				if valueEqual(item, got) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !valueEqual(want, got) {
				return false
			}
		}
	}
	return true
}

// valueEqual compares JSON scalars, tolerating the int/float64 split that
// appears when one side was built in Go and the other decoded from JSON.
func valueEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
