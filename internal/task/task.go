// Package task defines the unit of work routed through the orchestrator and
// the terminal result it produces.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidKind     = errors.New("invalid task kind")
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrMissingInput    = errors.New("task input is required")
)

// Kind is the category of AI work requested.
type Kind string

const (
	KindCompletion Kind = "completion"
	KindAnalysis   Kind = "analysis"
	KindPrediction Kind = "prediction"
	KindGeneration Kind = "generation"
	KindVision     Kind = "vision"
	KindVoice      Kind = "voice"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindCompletion, KindAnalysis, KindPrediction, KindGeneration, KindVision, KindVoice}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind normalises and validates a kind string.
func ParseKind(value string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, value)
	}
	return k, nil
}

// Priority is one of four fixed tiers. It never changes after submission.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists the tiers from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the tier index, 0 for critical through 3 for low, or -1.
func (p Priority) Rank() int {
	for i, known := range Priorities {
		if p == known {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool { return p.Rank() >= 0 }

// ParsePriority normalises and validates a priority string.
func ParsePriority(value string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, value)
	}
	return p, nil
}

// State is a task's lifecycle position.
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Submission carries the caller-provided fields of a task.
type Submission struct {
	Kind           Kind           `json:"kind"`
	Priority       Priority       `json:"priority"`
	RequestedModel string         `json:"requested_model,omitempty"`
	Input          map[string]any `json:"input"`
	Context        map[string]any `json:"context,omitempty"`
	SubmitterID    string         `json:"submitter_id,omitempty"`
}

// Validate checks kind and priority and requires a non-nil input.
func (s Submission) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, s.Kind)
	}
	if !s.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, s.Priority)
	}
	if s.Input == nil {
		return ErrMissingInput
	}
	return nil
}

// Task is an accepted submission with its identity and arrival time.
type Task struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	Priority       Priority       `json:"priority"`
	RequestedModel string         `json:"requested_model,omitempty"`
	Input          map[string]any `json:"input"`
	Context        map[string]any `json:"context,omitempty"`
	SubmitterID    string         `json:"submitter_id,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// FromSubmission builds a task from a validated submission.
func FromSubmission(id string, submittedAt time.Time, s Submission) *Task {
	return &Task{
		ID:             id,
		Kind:           s.Kind,
		Priority:       s.Priority,
		RequestedModel: s.RequestedModel,
		Input:          s.Input,
		Context:        s.Context,
		SubmitterID:    s.SubmitterID,
		SubmittedAt:    submittedAt,
	}
}
