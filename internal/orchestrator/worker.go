package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"taskorch/internal/async"
	"taskorch/internal/backend"
	"taskorch/internal/id"
	"taskorch/internal/observability"
	"taskorch/internal/registry"
	"taskorch/internal/task"
)

func (o *Orchestrator) worker(n int) {
	defer o.workers.Done()

	for o.queue.Wait() {
		o.mu.Lock()
		t, ok := o.queue.DequeueNext()
		if ok {
			o.active++
		}
		depth := o.queue.Size()
		o.mu.Unlock()
		if !ok {
			continue
		}
		o.dispatch(n, t, depth)
	}
}

// dispatch runs one dequeued task and always gives its active slot back.
func (o *Orchestrator) dispatch(n int, t *task.Task, depth int) {
	o.metrics.IncActiveJobs()
	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
		o.metrics.DecActiveJobs()
	}()
	defer async.Recover(o.logger, "orchestrator-worker")

	o.metrics.SetQueueDepth(depth)
	o.logger.Debug("Worker %d dispatching %s", n, t.ID)
	o.process(t)
}

// process runs one task to a terminal result. It never returns an error:
// every failure, panics included, becomes a failed Result.
func (o *Orchestrator) process(t *task.Task) {
	ctx := id.WithTaskID(o.baseCtx, t.ID)
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanTaskProcess,
		observability.TaskAttrs(t.ID, string(t.Kind), string(t.Priority))...)

	start := time.Now()
	if err := o.status.Dispatched(t.ID, o.now()); err != nil {
		o.logger.Warn("Dispatch of %s not recorded: %v", t.ID, err)
	}

	var (
		result *task.Result
		source string
	)
	err := async.Call(func() error {
		var execErr error
		result, source, execErr = o.execute(ctx, t, start)
		return execErr
	})
	if result == nil {
		var panicErr *async.PanicError
		if errors.As(err, &panicErr) {
			o.logger.Error("Task %s panicked: %v\n%s", t.ID, panicErr.Value, panicErr.Stack)
		}
		result, source = task.NewFailure(t, "", err, time.Since(start)), "panic"
	}

	span.SetAttributes(
		attribute.String(observability.AttrModel, result.ModelUsed),
		attribute.Bool(observability.AttrCacheHit, result.FromCache),
	)
	if result.EstimatedCost != nil {
		span.SetAttributes(attribute.Float64(observability.AttrCost, *result.EstimatedCost))
	}
	observability.EndSpan(span, err)

	o.metrics.ObserveFinished(string(stateOf(result)), source, time.Since(start))
	o.finish(t, result, err)
}

func (o *Orchestrator) execute(ctx context.Context, t *task.Task, start time.Time) (*task.Result, string, error) {
	if o.cache != nil {
		lookup := o.cache.Search(ctx, t)
		o.metrics.IncCacheLookup(lookup.Hit)
		if lookup.Hit {
			o.logger.Debug("Cache hit for %s (similarity %.4f)", t.ID, lookup.Similarity)
			return task.NewCacheHit(t, lookup.Result, time.Since(start)), "cache", nil
		}
	}

	desc, ok := o.registry.SelectOptimalModel(t)
	if !ok {
		o.logger.Warn("No model available for %s (kind=%s)", t.ID, t.Kind)
		return task.NewFailure(t, "", ErrNoBackend, time.Since(start)), "none", ErrNoBackend
	}

	resp, err := o.invoke(ctx, t, desc)
	if err != nil {
		o.logger.Warn("Task %s failed on %s: %v", t.ID, desc.Name, err)
		return task.NewFailure(t, desc.Name, err, time.Since(start)), "backend", err
	}

	result := task.NewSuccess(t, desc.Name, resp.Output, o.estimateCost(desc, t, resp), time.Since(start))
	if o.cache != nil {
		if err := o.cache.Store(ctx, t, result); err != nil {
			o.logger.Warn("Result of %s not cached: %v", t.ID, err)
		}
	}
	return result, "backend", nil
}

func (o *Orchestrator) invoke(ctx context.Context, t *task.Task, desc registry.Descriptor) (*backend.Response, error) {
	if o.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TaskTimeout)
		defer cancel()
	}

	req := backend.Request{
		TaskID:      t.ID,
		Kind:        t.Kind,
		Model:       desc.Name,
		Endpoint:    desc.Endpoint,
		Credential:  desc.Credential,
		MaxTokens:   desc.MaxTokens,
		Temperature: desc.Temperature,
		Input:       t.Input,
		Context:     t.Context,
	}

	var resp *backend.Response
	err := async.Call(func() error {
		var invokeErr error
		resp, invokeErr = o.backend.Invoke(ctx, req)
		return invokeErr
	})
	if err != nil {
		var panicErr *async.PanicError
		if errors.As(err, &panicErr) {
			o.logger.Error("Backend %s panicked on %s: %v\n%s", desc.Name, t.ID, panicErr.Value, panicErr.Stack)
		}
		return nil, err
	}
	if resp == nil {
		resp = &backend.Response{}
	}
	return resp, nil
}

// estimateCost prices units/1000 at the model's cost per unit. Units come
// from the backend when reported, otherwise from a token count of input and
// output.
func (o *Orchestrator) estimateCost(desc registry.Descriptor, t *task.Task, resp *backend.Response) float64 {
	units := resp.UnitsUsed
	if units <= 0 {
		units = float64(o.tokens.Count(encode(t.Input)) + o.tokens.Count(encode(resp.Output)))
	}
	return units / 1000 * desc.CostPerUnit
}

func encode(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (o *Orchestrator) finish(t *task.Task, result *task.Result, err error) {
	if recErr := o.status.Finish(t.ID, result, o.now()); recErr != nil && !errors.Is(recErr, ErrUnknownTask) {
		o.logger.Error("Dropping second result for %s: %v", t.ID, recErr)
		return
	}

	event := Event{Task: t, Result: result, At: o.now()}
	if result.Succeeded {
		o.completed.Add(1)
		event.Type = EventCompleted
	} else {
		o.failed.Add(1)
		event.Type = EventFailed
		event.Err = err
		if event.Err == nil {
			event.Err = errors.New(result.ErrorMessage)
		}
	}
	o.events.emit(event)
}

func stateOf(r *task.Result) task.State {
	if r.Succeeded {
		return task.StateCompleted
	}
	return task.StateFailed
}
