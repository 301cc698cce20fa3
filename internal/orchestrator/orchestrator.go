// Package orchestrator accepts AI tasks, queues them by priority and
// dispatches them to model backends through a fixed-size worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskorch/internal/backend"
	"taskorch/internal/id"
	"taskorch/internal/logging"
	"taskorch/internal/observability"
	"taskorch/internal/queue"
	"taskorch/internal/registry"
	"taskorch/internal/semcache"
	"taskorch/internal/task"
	"taskorch/internal/tokens"
)

// DefaultConcurrency is the number of tasks processed at once when unset.
const DefaultConcurrency = 5

var (
	// ErrNoBackend fails tasks when no registered model can be selected.
	ErrNoBackend = errors.New("no suitable model available")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// Config holds the orchestrator knobs. Zero values reproduce the reference
// behaviour: five workers, unbounded queue, no per-task timeout, no aging.
type Config struct {
	Concurrency   int           `mapstructure:"concurrency"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
	StatusHistory int           `mapstructure:"status_history"`
	AgingAfter    time.Duration `mapstructure:"aging_after"`
}

// ResultCache is the subset of the semantic cache the orchestrator uses.
type ResultCache interface {
	Search(ctx context.Context, t *task.Task) semcache.Lookup
	Store(ctx context.Context, t *task.Task, result *task.Result) error
	Len() int
}

// Dependencies are the collaborators injected into an Orchestrator. Registry
// and Backend are required; everything else has a default.
type Dependencies struct {
	Registry *registry.Registry
	Backend  backend.Backend
	// Cache may be nil to disable result caching.
	Cache   ResultCache
	Tokens  tokens.Counter
	IDs     *id.Generator
	Logger  logging.Logger
	Metrics *Metrics
	Tracer  *observability.TracerProvider
	Now     func() time.Time
}

// Orchestrator owns the queue, the active job counter and the task status
// history. Create it with New and start dispatching with Run.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	backend  backend.Backend
	cache    ResultCache
	tokens   tokens.Counter
	ids      *id.Generator
	logger   logging.Logger
	metrics  *Metrics
	tracer   *observability.TracerProvider
	now      func() time.Time

	queue  *queue.Queue
	status *StatusStore
	events *eventHub

	// submitMu guards admission. reserved counts admitted tasks whose
	// queued event is still being delivered and that are not yet enqueued.
	submitMu sync.Mutex
	reserved int

	// mu makes dequeue plus active++ atomic and gives observers a
	// consistent view of queue depth and active count.
	mu     sync.Mutex
	active int

	running   atomic.Bool
	baseCtx   context.Context
	workers   sync.WaitGroup
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New constructs an orchestrator.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("orchestrator: backend is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueCapacity < 0 {
		return nil, fmt.Errorf("orchestrator: queue capacity must be >= 0")
	}

	status, err := NewStatusStore(cfg.StatusHistory)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: deps.Registry,
		backend:  deps.Backend,
		cache:    deps.Cache,
		tokens:   deps.Tokens,
		ids:      deps.IDs,
		logger:   logging.OrNop(deps.Logger),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		now:      deps.Now,
		status:   status,
		baseCtx:  context.Background(),
	}
	if o.tokens == nil {
		o.tokens = tokens.Heuristic{}
	}
	if o.ids == nil {
		o.ids = id.NewGenerator(id.StrategyKSUID)
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}
	if o.tracer == nil {
		o.tracer = observability.NewNoopTracerProvider()
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.events = newEventHub(o.logger)
	o.queue = queue.New(queue.Options{
		Capacity: cfg.QueueCapacity,
		Aging:    queue.AgingPolicy{After: cfg.AgingAfter, Now: o.now},
	})
	return o, nil
}

// Run starts Concurrency workers and blocks until ctx is done. It then stops
// accepting work and waits for in-flight tasks; tasks still queued are left
// unprocessed. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.baseCtx = context.WithoutCancel(ctx)

	o.logger.Info("Starting %d workers", o.cfg.Concurrency)
	for i := 0; i < o.cfg.Concurrency; i++ {
		o.workers.Add(1)
		go o.worker(i)
	}

	<-ctx.Done()
	o.queue.Close()
	o.workers.Wait()
	o.logger.Info("Workers stopped, %d tasks left queued", o.queue.Size())
	return nil
}

// SubmitTask validates and enqueues a task and returns its id immediately.
// The queued event is delivered before the call returns and before any worker
// can pick the task up. Listeners run outside the admission lock and may
// submit follow-up tasks.
func (o *Orchestrator) SubmitTask(ctx context.Context, sub task.Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := sub.Validate(); err != nil {
		return "", err
	}

	t, err := o.admit(sub)
	if err != nil {
		return "", err
	}
	o.events.emit(Event{Type: EventQueued, Task: t, At: t.SubmittedAt})

	o.mu.Lock()
	err = o.queue.Enqueue(t)
	depth := o.queue.Size()
	o.mu.Unlock()
	o.release()
	o.metrics.SetQueueDepth(depth)

	if err != nil {
		// The queue closed between admission and the enqueue.
		o.finish(t, task.NewFailure(t, "", err, 0), err)
		return "", err
	}
	o.logger.Debug("Queued %s (kind=%s priority=%s)", t.ID, t.Kind, t.Priority)
	return t.ID, nil
}

// admit checks capacity, counting reserved slots, and records the new task
// as queued.
func (o *Orchestrator) admit(sub task.Submission) (*task.Task, error) {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	if o.queue.Closed() {
		return nil, queue.ErrClosed
	}
	if o.cfg.QueueCapacity > 0 && o.queue.Size()+o.reserved >= o.cfg.QueueCapacity {
		return nil, queue.ErrQueueFull
	}
	o.reserved++

	t := task.FromSubmission(o.ids.NewTaskID(), o.now(), sub)
	o.status.Queued(t, t.SubmittedAt)
	o.submitted.Add(1)
	o.metrics.IncSubmitted(string(t.Kind), string(t.Priority))
	return t, nil
}

func (o *Orchestrator) release() {
	o.submitMu.Lock()
	o.reserved--
	o.submitMu.Unlock()
}

// TaskStatus returns the state and, once terminal, the result of a task.
func (o *Orchestrator) TaskStatus(taskID string) (Status, bool) {
	return o.status.Get(taskID)
}

// QueueDepth returns the number of tasks waiting for dispatch.
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Size()
}

// ActiveJobCount returns the number of tasks currently being processed.
func (o *Orchestrator) ActiveJobCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Snapshot is a consistent view of the orchestrator's load.
type Snapshot struct {
	QueueDepth      int                   `json:"queue_depth"`
	ActiveJobs      int                   `json:"active_jobs"`
	Concurrency     int                   `json:"concurrency"`
	QueueByPriority map[task.Priority]int `json:"queue_by_priority"`
	Submitted       uint64                `json:"submitted"`
	Completed       uint64                `json:"completed"`
	Failed          uint64                `json:"failed"`
	CachedResults   int                   `json:"cached_results"`
	Models          int                   `json:"models"`
}

// Snapshot returns queue depth and active count read together, plus totals.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		QueueDepth:      o.queue.Size(),
		ActiveJobs:      o.active,
		QueueByPriority: o.queue.SizeByPriority(),
	}
	o.mu.Unlock()

	snap.Concurrency = o.cfg.Concurrency
	snap.Submitted = o.submitted.Load()
	snap.Completed = o.completed.Load()
	snap.Failed = o.failed.Load()
	snap.Models = o.registry.Len()
	if o.cache != nil {
		snap.CachedResults = o.cache.Len()
	}
	return snap
}

// AddListener registers a synchronous observer. The returned function removes it.
func (o *Orchestrator) AddListener(l Listener) func() {
	return o.events.addListener(l)
}

// Subscribe returns a buffered channel of events and a function that closes
// it. Slow subscribers lose events rather than blocking dispatch.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

// RegisterModel adds or replaces a model descriptor.
func (o *Orchestrator) RegisterModel(d registry.Descriptor) error {
	if err := o.registry.Register(d); err != nil {
		return err
	}
	o.logger.Info("Registered model %s (%d capabilities, cost %.4f)", d.Name, len(d.Capabilities), d.CostPerUnit)
	return nil
}

// Models lists registered descriptors in registration order.
func (o *Orchestrator) Models() []registry.Descriptor {
	return o.registry.List()
}
