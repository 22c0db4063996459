package api

import (
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/surfacehq/surface/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// executionSnapshot is one websocket frame of execution progress.
type executionSnapshot struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	NodeStates  store.StateMap `json:"node_states"`
	Timestamp   time.Time      `json:"timestamp"`
}

const streamPollInterval = time.Second

// handleExecutionStream pushes node-state snapshots for one execution until
// it reaches a terminal status or the client disconnects. Snapshots are only
// sent when something changed.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exec, err := s.store.GetDAGExecution(r.Context(), vars["execution_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if exec.ProjectID != vars["project_id"] {
		writeError(w, store.ErrNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logAPI.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	var lastStatus string
	var lastStates store.StateMap
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		exec, err := s.store.GetDAGExecution(ctx, vars["execution_id"])
		if err != nil {
			return
		}
		if exec.Status != lastStatus || !reflect.DeepEqual(exec.NodeStates, lastStates) {
			lastStatus = exec.Status
			lastStates = exec.NodeStates
			frame := executionSnapshot{
				ExecutionID: exec.ID,
				Status:      exec.Status,
				NodeStates:  exec.NodeStates,
				Timestamp:   time.Now().UTC(),
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		switch exec.Status {
		case store.TaskCompleted, store.TaskFailed, store.TaskCancelled:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, exec.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
