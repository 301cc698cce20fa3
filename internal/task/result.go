package task

import "time"

// Result is the single terminal outcome of a task.
type Result struct {
	TaskID           string   `json:"task_id"`
	Succeeded        bool     `json:"succeeded"`
	Output           any      `json:"output,omitempty"`
	ModelUsed        string   `json:"model_used,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	EstimatedCost    *float64 `json:"estimated_cost,omitempty"`
	FromCache        bool     `json:"from_cache"`
	ErrorMessage     string   `json:"error_message,omitempty"`
}

// NewSuccess builds a live (uncached) successful result.
func NewSuccess(t *Task, model string, output any, cost float64, elapsed time.Duration) *Result {
	return &Result{
		TaskID:           t.ID,
		Succeeded:        true,
		Output:           output,
		ModelUsed:        model,
		ProcessingTimeMs: elapsed.Milliseconds(),
		EstimatedCost:    &cost,
	}
}

// NewCacheHit builds a result served from a previously stored result. The
// processing time reflects the lookup, not the original run, and no cost is
// incurred.
func NewCacheHit(t *Task, cached *Result, elapsed time.Duration) *Result {
	zero := 0.0
	return &Result{
		TaskID:           t.ID,
		Succeeded:        true,
		Output:           cached.Output,
		ModelUsed:        cached.ModelUsed,
		ProcessingTimeMs: elapsed.Milliseconds(),
		EstimatedCost:    &zero,
		FromCache:        true,
	}
}

// NewFailure builds a failed result carrying err's message verbatim. model may
// be empty when no backend was selected.
func NewFailure(t *Task, model string, err error, elapsed time.Duration) *Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Result{
		TaskID:           t.ID,
		Succeeded:        false,
		ModelUsed:        model,
		ProcessingTimeMs: elapsed.Milliseconds(),
		ErrorMessage:     msg,
	}
}
