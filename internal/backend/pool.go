package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	errs "taskorch/internal/errors"
)

// ErrNoAdapter is returned when no adapter serves the requested model.
var ErrNoAdapter = errors.New("no backend adapter for model")

// Func adapts a function to the Backend interface.
type Func func(ctx context.Context, req Request) (*Response, error)

// Invoke implements Backend.
func (f Func) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Pool routes requests to an adapter by model name, falling back to a default
// adapter when one is set.
type Pool struct {
	mu       sync.RWMutex
	adapters map[string]Backend
	fallback Backend
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{adapters: make(map[string]Backend)}
}

// Register routes model to b, replacing any previous adapter.
func (p *Pool) Register(model string, b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters[model] = b
}

// SetFallback sets the adapter used for models without a dedicated one.
func (p *Pool) SetFallback(b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = b
}

// Has reports whether model would be routed somewhere.
func (p *Pool) Has(model string) bool {
	_, ok := p.route(model)
	return ok
}

// Models lists the models with dedicated adapters.
func (p *Pool) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.adapters))
	for name := range p.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke implements Backend.
func (p *Pool) Invoke(ctx context.Context, req Request) (*Response, error) {
	b, ok := p.route(req.Model)
	if !ok {
		return nil, errs.NewPermanent(fmt.Errorf("%w: %s", ErrNoAdapter, req.Model))
	}
	return b.Invoke(ctx, req)
}

func (p *Pool) route(model string) (Backend, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if b, ok := p.adapters[model]; ok {
		return b, true
	}
	if p.fallback != nil {
		return p.fallback, true
	}
	return nil, false
}
