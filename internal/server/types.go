package server

import (
	"time"

	"taskorch/internal/orchestrator"
	"taskorch/internal/registry"
	"taskorch/internal/task"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubmitRequest is the body of POST /api/tasks.
type SubmitRequest struct {
	Kind           string         `json:"kind" binding:"required"`
	Priority       string         `json:"priority" binding:"required"`
	Input          map[string]any `json:"input"`
	Context        map[string]any `json:"context,omitempty"`
	RequestedModel string         `json:"requested_model,omitempty"`
	SubmitterID    string         `json:"submitter_id,omitempty"`
}

type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatusResponse is the body of GET /api/tasks/:id.
type TaskStatusResponse struct {
	TaskID      string        `json:"task_id"`
	Kind        task.Kind     `json:"kind"`
	Priority    task.Priority `json:"priority"`
	State       task.State    `json:"state"`
	SubmittedAt time.Time     `json:"submitted_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Result      *task.Result  `json:"result,omitempty"`
}

func newTaskStatusResponse(st orchestrator.Status) TaskStatusResponse {
	return TaskStatusResponse{
		TaskID:      st.Task.ID,
		Kind:        st.Task.Kind,
		Priority:    st.Task.Priority,
		State:       st.State,
		SubmittedAt: st.Task.SubmittedAt,
		UpdatedAt:   st.UpdatedAt,
		Result:      st.Result,
	}
}

type ModelsResponse struct {
	Models []registry.Descriptor `json:"models"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// EventMessage is one frame on the /api/events websocket.
type EventMessage struct {
	Type      orchestrator.EventType `json:"type"`
	TaskID    string                 `json:"task_id"`
	Kind      task.Kind              `json:"kind,omitempty"`
	Priority  task.Priority          `json:"priority,omitempty"`
	Result    *task.Result           `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func newEventMessage(e orchestrator.Event) EventMessage {
	msg := EventMessage{
		Type:      e.Type,
		Result:    e.Result,
		Timestamp: e.At,
	}
	if e.Task != nil {
		msg.TaskID = e.Task.ID
		msg.Kind = e.Task.Kind
		msg.Priority = e.Task.Priority
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}
