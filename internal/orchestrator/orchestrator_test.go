package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"taskorch/internal/backend"
	"taskorch/internal/id"
	"taskorch/internal/queue"
	"taskorch/internal/registry"
	"taskorch/internal/semcache"
	"taskorch/internal/task"
)

var generalModel = registry.Descriptor{
	Name:         "general",
	Endpoint:     "http://general.invalid",
	Capabilities: []string{"text-generation", "chat", "reasoning", "data-analysis"},
	CostPerUnit:  1,
}

func newTestOrchestrator(t *testing.T, cfg Config, be backend.Backend, cache ResultCache, models ...registry.Descriptor) (*Orchestrator, *Metrics) {
	t.Helper()
	reg := registry.New()
	for _, m := range models {
		require.NoError(t, reg.Register(m))
	}
	metrics := MustNewMetrics(prometheus.NewRegistry())
	o, err := New(cfg, Dependencies{
		Registry: reg,
		Backend:  be,
		Cache:    cache,
		Metrics:  metrics,
	})
	require.NoError(t, err)
	return o, metrics
}

func start(t *testing.T, o *Orchestrator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return cancel
}

func submit(t *testing.T, o *Orchestrator, kind task.Kind, priority task.Priority, input map[string]any) string {
	t.Helper()
	taskID, err := o.SubmitTask(context.Background(), task.Submission{
		Kind:        kind,
		Priority:    priority,
		Input:       input,
		SubmitterID: "tester",
	})
	require.NoError(t, err)
	return taskID
}

// awaitTerminal collects n completed or failed events keyed by task id.
func awaitTerminal(t *testing.T, events <-chan Event, n int) map[string]Event {
	t.Helper()
	out := make(map[string]Event, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case e := <-events:
			if e.terminal() {
				out[e.Task.ID] = e
			}
		case <-timeout:
			t.Fatalf("timed out with %d of %d terminal events", len(out), n)
		}
	}
	return out
}

func echoBackend(calls *atomic.Int64) backend.Backend {
	return backend.Func(func(ctx context.Context, req backend.Request) (*backend.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &backend.Response{Output: map[string]any{"model": req.Model, "echo": req.Input}}, nil
	})
}

type recordingBackend struct {
	mu    sync.Mutex
	order []string
}

func (r *recordingBackend) Invoke(ctx context.Context, req backend.Request) (*backend.Response, error) {
	r.mu.Lock()
	r.order = append(r.order, req.Input["name"].(string))
	r.mu.Unlock()
	return &backend.Response{Output: "ok", UnitsUsed: 1}, nil
}

func (r *recordingBackend) dispatched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestSubmitTaskRejectsInvalidSubmission(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)

	_, err := o.SubmitTask(context.Background(), task.Submission{Kind: "dance", Priority: task.PriorityLow, Input: map[string]any{}})
	assert.ErrorIs(t, err, task.ErrInvalidKind)

	_, err = o.SubmitTask(context.Background(), task.Submission{Kind: task.KindAnalysis, Priority: "urgent", Input: map[string]any{}})
	assert.ErrorIs(t, err, task.ErrInvalidPriority)

	_, err = o.SubmitTask(context.Background(), task.Submission{Kind: task.KindAnalysis, Priority: task.PriorityLow})
	assert.ErrorIs(t, err, task.ErrMissingInput)

	assert.Equal(t, 0, o.QueueDepth())
}

func TestSubmitTaskReturnsUniqueIDsAndQueuesTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)

	first := submit(t, o, task.KindCompletion, task.PriorityMedium, map[string]any{"prompt": "a"})
	second := submit(t, o, task.KindCompletion, task.PriorityMedium, map[string]any{"prompt": "a"})

	assert.NotEqual(t, first, second)
	assert.Regexp(t, `^task-`, first)
	assert.Equal(t, 2, o.QueueDepth())
	assert.Equal(t, 0, o.ActiveJobCount())

	st, ok := o.TaskStatus(first)
	require.True(t, ok)
	assert.Equal(t, task.StateQueued, st.State)
	assert.Nil(t, st.Result)
	assert.Equal(t, "tester", st.Task.SubmitterID)
}

func TestDispatchOrderFollowsPriorityThenSubmission(t *testing.T) {
	rec := &recordingBackend{}
	o, _ := newTestOrchestrator(t, Config{Concurrency: 1}, rec, nil, generalModel)
	events, unsubscribe := o.Subscribe(32)
	defer unsubscribe()

	for _, s := range []struct {
		name     string
		priority task.Priority
	}{
		{"low-1", task.PriorityLow},
		{"medium-1", task.PriorityMedium},
		{"high-1", task.PriorityHigh},
		{"critical-1", task.PriorityCritical},
		{"high-2", task.PriorityHigh},
		{"low-2", task.PriorityLow},
	} {
		submit(t, o, task.KindCompletion, s.priority, map[string]any{"name": s.name})
	}

	start(t, o)
	awaitTerminal(t, events, 6)

	assert.Equal(t, []string{"critical-1", "high-1", "high-2", "medium-1", "low-1", "low-2"}, rec.dispatched())
}

func TestLowMediumCriticalDispatchesCriticalFirst(t *testing.T) {
	rec := &recordingBackend{}
	o, _ := newTestOrchestrator(t, Config{Concurrency: 1}, rec, nil, generalModel)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()

	submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"name": "A"})
	submit(t, o, task.KindCompletion, task.PriorityCritical, map[string]any{"name": "B"})
	submit(t, o, task.KindCompletion, task.PriorityMedium, map[string]any{"name": "C"})

	start(t, o)
	awaitTerminal(t, events, 3)

	assert.Equal(t, []string{"B", "C", "A"}, rec.dispatched())
}

func TestActiveJobsNeverExceedConcurrency(t *testing.T) {
	var inflight, peak atomic.Int64
	release := make(chan struct{})
	be := backend.Func(func(ctx context.Context, req backend.Request) (*backend.Response, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return &backend.Response{Output: "done"}, nil
	})
	o, _ := newTestOrchestrator(t, Config{Concurrency: 2}, be, nil, generalModel)
	events, unsubscribe := o.Subscribe(16)
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		submit(t, o, task.KindCompletion, task.PriorityMedium, map[string]any{"i": i})
	}
	start(t, o)

	require.Eventually(t, func() bool {
		snap := o.Snapshot()
		return snap.ActiveJobs == 2 && snap.QueueDepth == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, o.ActiveJobCount(), 2)

	close(release)
	awaitTerminal(t, events, 5)

	assert.EqualValues(t, 2, peak.Load())
	require.Eventually(t, func() bool { return o.ActiveJobCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, o.QueueDepth())
}

func TestRepeatedAnalysisIsServedFromCache(t *testing.T) {
	var calls atomic.Int64
	cache, err := semcache.New(semcache.NewHashEmbedder(semcache.DefaultDimensions), semcache.NewLinearIndex(), semcache.Options{})
	require.NoError(t, err)
	o, metrics := newTestOrchestrator(t, Config{}, echoBackend(&calls), cache, generalModel)
	events, unsubscribe := o.Subscribe(16)
	defer unsubscribe()
	start(t, o)

	input := map[string]any{"question": "quarterly revenue by region", "year": 2024}
	firstID := submit(t, o, task.KindAnalysis, task.PriorityHigh, input)
	first := awaitTerminal(t, events, 1)[firstID]

	secondID := submit(t, o, task.KindAnalysis, task.PriorityHigh, input)
	second := awaitTerminal(t, events, 1)[secondID]

	require.True(t, first.Result.Succeeded)
	require.True(t, second.Result.Succeeded)
	assert.False(t, first.Result.FromCache)
	assert.True(t, second.Result.FromCache)
	assert.Equal(t, first.Result.Output, second.Result.Output)
	assert.Equal(t, "general", second.Result.ModelUsed)
	assert.LessOrEqual(t, second.Result.ProcessingTimeMs, int64(50))
	require.NotNil(t, second.Result.EstimatedCost)
	assert.Zero(t, *second.Result.EstimatedCost)
	assert.EqualValues(t, 1, calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.finished.WithLabelValues("completed", "cache")))
	assert.Equal(t, 1, o.Snapshot().CachedResults)
}

func TestEmptyRegistryFailsEveryTask(t *testing.T) {
	var calls atomic.Int64
	o, metrics := newTestOrchestrator(t, Config{Concurrency: 2}, echoBackend(&calls), nil)
	events, unsubscribe := o.Subscribe(16)
	defer unsubscribe()
	start(t, o)

	ids := []string{
		submit(t, o, task.KindVision, task.PriorityCritical, map[string]any{"image": "a.png"}),
		submit(t, o, task.KindVoice, task.PriorityLow, map[string]any{"audio": "b.wav"}),
		submit(t, o, task.KindCompletion, task.PriorityMedium, map[string]any{"prompt": "c"}),
	}
	got := awaitTerminal(t, events, len(ids))

	for _, taskID := range ids {
		e := got[taskID]
		assert.Equal(t, EventFailed, e.Type)
		assert.ErrorIs(t, e.Err, ErrNoBackend)
		assert.Equal(t, "no suitable model available", e.Result.ErrorMessage)
		assert.Empty(t, e.Result.ModelUsed)

		st, ok := o.TaskStatus(taskID)
		require.True(t, ok)
		assert.Equal(t, task.StateFailed, st.State)
	}
	assert.Zero(t, calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.finished.WithLabelValues("failed", "none")))
}

func TestBackendErrorIsPreservedVerbatimWithoutRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	mb := backend.NewMockBackend(ctrl)
	mb.EXPECT().
		Invoke(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("upstream 503: model overloaded, try later")).
		Times(1)

	o, metrics := newTestOrchestrator(t, Config{}, mb, nil, generalModel)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()
	start(t, o)

	taskID := submit(t, o, task.KindCompletion, task.PriorityHigh, map[string]any{"prompt": "hi"})
	e := awaitTerminal(t, events, 1)[taskID]

	assert.Equal(t, EventFailed, e.Type)
	assert.False(t, e.Result.Succeeded)
	assert.Equal(t, "upstream 503: model overloaded, try later", e.Result.ErrorMessage)
	assert.Equal(t, "general", e.Result.ModelUsed)
	assert.Nil(t, e.Result.EstimatedCost)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.finished.WithLabelValues("failed", "backend")))
}

func TestBackendReceivesSelectedModelParameters(t *testing.T) {
	vision := registry.Descriptor{
		Name:         "vision-pro",
		Endpoint:     "https://vision.invalid/v1",
		Credential:   "secret",
		MaxTokens:    2048,
		Temperature:  0.2,
		Capabilities: []string{"image-understanding", "ocr"},
		CostPerUnit:  5,
	}
	ctrl := gomock.NewController(t)
	mb := backend.NewMockBackend(ctrl)
	mb.EXPECT().
		Invoke(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req backend.Request) (*backend.Response, error) {
			assert.Equal(t, req.TaskID, id.TaskIDFromContext(ctx))
			assert.Equal(t, task.KindVision, req.Kind)
			assert.Equal(t, "vision-pro", req.Model)
			assert.Equal(t, "https://vision.invalid/v1", req.Endpoint)
			assert.Equal(t, "secret", req.Credential)
			assert.Equal(t, 2048, req.MaxTokens)
			assert.Equal(t, 0.2, req.Temperature)
			assert.Equal(t, "scan.png", req.Input["image"])
			assert.Equal(t, "invoice", req.Context["doc_type"])
			return &backend.Response{Output: map[string]any{"text": "total 12"}, UnitsUsed: 2000}, nil
		})

	o, _ := newTestOrchestrator(t, Config{}, mb, nil, generalModel, vision)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()
	start(t, o)

	taskID, err := o.SubmitTask(context.Background(), task.Submission{
		Kind:     task.KindVision,
		Priority: task.PriorityMedium,
		Input:    map[string]any{"image": "scan.png"},
		Context:  map[string]any{"doc_type": "invoice"},
	})
	require.NoError(t, err)
	e := awaitTerminal(t, events, 1)[taskID]

	require.True(t, e.Result.Succeeded)
	assert.Equal(t, "vision-pro", e.Result.ModelUsed)
	require.NotNil(t, e.Result.EstimatedCost)
	assert.InDelta(t, 10.0, *e.Result.EstimatedCost, 1e-9)
}

type fixedCounter int

func (f fixedCounter) Count(string) int { return int(f) }

func TestCostFallsBackToTokenCount(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(generalModel))
	o, err := New(Config{}, Dependencies{
		Registry: reg,
		Backend:  echoBackend(nil),
		Tokens:   fixedCounter(7),
		Metrics:  MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()
	start(t, o)

	taskID := submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"prompt": "count me"})
	e := awaitTerminal(t, events, 1)[taskID]

	require.NotNil(t, e.Result.EstimatedCost)
	assert.InDelta(t, 14.0/1000*generalModel.CostPerUnit, *e.Result.EstimatedCost, 1e-12)
}

func TestBackendPanicFailsTaskAndWorkerContinues(t *testing.T) {
	be := backend.Func(func(ctx context.Context, req backend.Request) (*backend.Response, error) {
		if req.Input["explode"] == true {
			panic("boom")
		}
		return &backend.Response{Output: "fine"}, nil
	})
	o, _ := newTestOrchestrator(t, Config{Concurrency: 1}, be, nil, generalModel)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()

	bad := submit(t, o, task.KindCompletion, task.PriorityCritical, map[string]any{"explode": true})
	good := submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"explode": false})
	start(t, o)
	got := awaitTerminal(t, events, 2)

	assert.Equal(t, EventFailed, got[bad].Type)
	assert.Equal(t, "panic: boom", got[bad].Result.ErrorMessage)
	assert.Equal(t, EventCompleted, got[good].Type)
}

func TestTaskTimeoutFailsSlowBackend(t *testing.T) {
	be := backend.Func(func(ctx context.Context, req backend.Request) (*backend.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o, _ := newTestOrchestrator(t, Config{TaskTimeout: 20 * time.Millisecond}, be, nil, generalModel)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()
	start(t, o)

	taskID := submit(t, o, task.KindPrediction, task.PriorityHigh, map[string]any{"series": []int{1, 2, 3}})
	e := awaitTerminal(t, events, 1)[taskID]

	assert.ErrorIs(t, e.Err, context.DeadlineExceeded)
	assert.Equal(t, "context deadline exceeded", e.Result.ErrorMessage)
}

func TestEventsFollowLifecycleOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]EventType{}
	)
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)
	remove := o.AddListener(ListenerFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Task.ID] = append(seen[e.Task.ID], e.Type)
	}))
	defer remove()
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()

	taskID := submit(t, o, task.KindGeneration, task.PriorityMedium, map[string]any{"prompt": "poem"})
	mu.Lock()
	assert.Equal(t, []EventType{EventQueued}, seen[taskID])
	mu.Unlock()

	start(t, o)
	e := awaitTerminal(t, events, 1)[taskID]
	assert.Equal(t, EventCompleted, e.Type)
	assert.NoError(t, e.Err)

	mu.Lock()
	assert.Equal(t, []EventType{EventQueued, EventCompleted}, seen[taskID])
	mu.Unlock()

	st, ok := o.TaskStatus(taskID)
	require.True(t, ok)
	assert.Equal(t, task.StateCompleted, st.State)
	assert.Same(t, e.Result, st.Result)
}

func TestPanickingListenerDoesNotStopDispatch(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)
	o.AddListener(ListenerFunc(func(Event) { panic("listener bug") }))
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()
	start(t, o)

	taskID := submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"prompt": "x"})
	e := awaitTerminal(t, events, 1)[taskID]
	assert.Equal(t, EventCompleted, e.Type)
}

// explodingCache panics in Search for inputs carrying "boom" and in Store for
// inputs carrying "boom_on_store".
type explodingCache struct{}

func (explodingCache) Search(_ context.Context, t *task.Task) semcache.Lookup {
	if _, ok := t.Input["boom"]; ok {
		panic("embedding exploded")
	}
	return semcache.Lookup{}
}

func (explodingCache) Store(_ context.Context, t *task.Task, _ *task.Result) error {
	if _, ok := t.Input["boom_on_store"]; ok {
		panic("index exploded")
	}
	return nil
}

func (explodingCache) Len() int { return 0 }

func TestCachePanicFailsTaskAndWorkerKeepsDispatching(t *testing.T) {
	o, metrics := newTestOrchestrator(t, Config{Concurrency: 1}, echoBackend(nil), explodingCache{}, generalModel)
	events, unsubscribe := o.Subscribe(16)
	defer unsubscribe()

	onSearch := submit(t, o, task.KindCompletion, task.PriorityCritical, map[string]any{"boom": true})
	onStore := submit(t, o, task.KindCompletion, task.PriorityHigh, map[string]any{"boom_on_store": true})
	good := submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"prompt": "still served"})

	start(t, o)
	terminal := awaitTerminal(t, events, 3)

	for _, taskID := range []string{onSearch, onStore} {
		e := terminal[taskID]
		assert.Equal(t, EventFailed, e.Type)
		require.NotNil(t, e.Result)
		assert.False(t, e.Result.Succeeded)
		assert.Contains(t, e.Result.ErrorMessage, "exploded")

		st, ok := o.TaskStatus(taskID)
		require.True(t, ok)
		assert.Equal(t, task.StateFailed, st.State)
	}
	assert.Equal(t, EventCompleted, terminal[good].Type)

	assert.Eventually(t, func() bool {
		return o.ActiveJobCount() == 0 && testutil.ToFloat64(metrics.jobsActive) == 0
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 2, o.Snapshot().Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.finished.WithLabelValues("failed", "panic")))
}

func TestListenerCanSubmitFollowUpTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)
	events, unsubscribe := o.Subscribe(16)
	defer unsubscribe()

	followUp := make(chan string, 1)
	o.AddListener(ListenerFunc(func(e Event) {
		if e.Type != EventQueued {
			return
		}
		if _, ok := e.Task.Input["chain"]; !ok {
			return
		}
		taskID, err := o.SubmitTask(context.Background(), task.Submission{
			Kind: task.KindCompletion, Priority: task.PriorityLow, Input: map[string]any{"prompt": "next"},
		})
		if err == nil {
			followUp <- taskID
		}
		close(followUp)
	}))

	submitted := make(chan string, 1)
	go func() {
		taskID, _ := o.SubmitTask(context.Background(), task.Submission{
			Kind: task.KindCompletion, Priority: task.PriorityHigh, Input: map[string]any{"chain": true},
		})
		submitted <- taskID
	}()

	var first string
	select {
	case first = <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitTask blocked while a listener submitted a follow-up")
	}
	require.NotEmpty(t, first)
	next, ok := <-followUp
	require.True(t, ok, "follow-up submission failed")

	start(t, o)
	terminal := awaitTerminal(t, events, 2)
	assert.Equal(t, EventCompleted, terminal[first].Type)
	assert.Equal(t, EventCompleted, terminal[next].Type)
}

func TestQueuedEventHoldsCapacitySlot(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{QueueCapacity: 1}, echoBackend(nil), nil, generalModel)

	var nestedErr error
	o.AddListener(ListenerFunc(func(e Event) {
		if e.Type != EventQueued || e.Task.Input["n"] != 1 {
			return
		}
		_, nestedErr = o.SubmitTask(context.Background(), task.Submission{
			Kind: task.KindCompletion, Priority: task.PriorityLow, Input: map[string]any{"n": 2},
		})
	}))

	submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"n": 1})
	assert.ErrorIs(t, nestedErr, queue.ErrQueueFull)
	assert.Equal(t, 1, o.QueueDepth())
}

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{QueueCapacity: 1}, echoBackend(nil), nil, generalModel)

	submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"n": 1})
	_, err := o.SubmitTask(context.Background(), task.Submission{
		Kind: task.KindCompletion, Priority: task.PriorityCritical, Input: map[string]any{"n": 2},
	})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.EqualValues(t, 1, o.Snapshot().Submitted)
}

func TestSubmitAfterShutdownIsRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	require.Eventually(t, o.running.Load, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	_, err := o.SubmitTask(context.Background(), task.Submission{
		Kind: task.KindCompletion, Priority: task.PriorityLow, Input: map[string]any{},
	})
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestRunTwiceFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)
	start(t, o)
	require.Eventually(t, o.running.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, o.Run(context.Background()), ErrAlreadyRunning)
}

func TestSnapshotReportsQueueBreakdown(t *testing.T) {
	o, metrics := newTestOrchestrator(t, Config{Concurrency: 3}, echoBackend(nil), nil, generalModel)

	submit(t, o, task.KindCompletion, task.PriorityCritical, map[string]any{"n": 1})
	submit(t, o, task.KindCompletion, task.PriorityLow, map[string]any{"n": 2})
	submit(t, o, task.KindAnalysis, task.PriorityLow, map[string]any{"n": 3})

	snap := o.Snapshot()
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, 0, snap.ActiveJobs)
	assert.Equal(t, 3, snap.Concurrency)
	assert.Equal(t, 1, snap.QueueByPriority[task.PriorityCritical])
	assert.Equal(t, 2, snap.QueueByPriority[task.PriorityLow])
	assert.EqualValues(t, 3, snap.Submitted)
	assert.Equal(t, 1, snap.Models)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.submitted.WithLabelValues("completion", "low"))+
		testutil.ToFloat64(metrics.submitted.WithLabelValues("analysis", "low")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.queueDepth))
}

func TestRegisterModelRoutesNewKinds(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, echoBackend(nil), nil, generalModel)
	events, unsubscribe := o.Subscribe(8)
	defer unsubscribe()

	assert.Error(t, o.RegisterModel(registry.Descriptor{}))
	require.NoError(t, o.RegisterModel(registry.Descriptor{
		Name:         "whisper",
		Capabilities: []string{"speech-to-text", "text-to-speech"},
		CostPerUnit:  0.1,
	}))
	assert.Len(t, o.Models(), 2)

	start(t, o)
	taskID := submit(t, o, task.KindVoice, task.PriorityMedium, map[string]any{"audio": "clip.wav"})
	e := awaitTerminal(t, events, 1)[taskID]
	assert.Equal(t, "whisper", e.Result.ModelUsed)
}

func TestNewRequiresRegistryAndBackend(t *testing.T) {
	_, err := New(Config{}, Dependencies{Backend: echoBackend(nil)})
	assert.Error(t, err)
	_, err = New(Config{}, Dependencies{Registry: registry.New()})
	assert.Error(t, err)
	_, err = New(Config{QueueCapacity: -1}, Dependencies{Registry: registry.New(), Backend: echoBackend(nil)})
	assert.Error(t, err)
}
