package backend

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"
)

// SimulatedOptions configures a Simulated backend.
type SimulatedOptions struct {
	Latency time.Duration
	// FailEvery makes every n-th call fail. 0 disables failure injection.
	FailEvery int
	// FailMessage is the injected error text.
	FailMessage string
}

// Simulated is an in-process stand-in for a model service. Its output is a
// deterministic function of the request so repeated inputs give equal results.
type Simulated struct {
	name  string
	opts  SimulatedOptions
	calls atomic.Int64
}

// NewSimulated returns a simulated backend reporting itself as name.
func NewSimulated(name string, opts SimulatedOptions) *Simulated {
	if opts.FailMessage == "" {
		opts.FailMessage = "simulated backend failure"
	}
	return &Simulated{name: name, opts: opts}
}

// Calls returns how many times Invoke has been called.
func (s *Simulated) Calls() int64 { return s.calls.Load() }

// Invoke implements Backend.
func (s *Simulated) Invoke(ctx context.Context, req Request) (*Response, error) {
	n := s.calls.Add(1)

	if s.opts.Latency > 0 {
		timer := time.NewTimer(s.opts.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if s.opts.FailEvery > 0 && n%int64(s.opts.FailEvery) == 0 {
		return nil, errors.New(s.opts.FailMessage)
	}

	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s|%s|%v", req.Kind, req.Model, req.Input)
	return &Response{
		Output: map[string]any{
			"model":       s.name,
			"kind":        string(req.Kind),
			"summary":     fmt.Sprintf("%s result from %s", req.Kind, s.name),
			"fingerprint": fmt.Sprintf("%08x", h.Sum32()),
		},
	}, nil
}
