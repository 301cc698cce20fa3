// Package backend is the uniform invocation boundary between the orchestrator
// and AI model services. Adapters translate a Request into whatever wire
// format a service speaks.
package backend

//go:generate mockgen -source=backend.go -destination=mock_backend.go -package=backend

import (
	"context"

	"taskorch/internal/task"
)

// Request is everything an adapter needs to run one task on one model.
type Request struct {
	TaskID      string
	Kind        task.Kind
	Model       string
	Endpoint    string
	Credential  string
	MaxTokens   int
	Temperature float64
	Input       map[string]any
	Context     map[string]any
}

// Response is a successful invocation. UnitsUsed is the billable unit count
// reported by the service, or 0 when it reports none.
type Response struct {
	Output    any
	UnitsUsed float64
}

// Backend invokes a model. Returned errors are surfaced to callers verbatim.
type Backend interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
