package orchestrator

import (
	"sync"
	"time"

	"taskorch/internal/async"
	"taskorch/internal/logging"
	"taskorch/internal/task"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventQueued    EventType = "task:queued"
	EventCompleted EventType = "task:completed"
	EventFailed    EventType = "task:failed"
)

// Event is emitted on every lifecycle transition that observers care about.
// Result is set for completed and failed events; Err only for failed ones.
type Event struct {
	Type   EventType
	Task   *task.Task
	Result *task.Result
	Err    error
	At     time.Time
}

func (e Event) terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

// Listener receives events synchronously on the goroutine that produced them.
// Implementations must not block. No orchestrator lock is held during
// delivery, so a listener may submit tasks.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

type eventHub struct {
	logger logging.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
	subs      map[int]chan Event
}

func newEventHub(logger logging.Logger) *eventHub {
	return &eventHub{
		logger:    logging.OrNop(logger),
		listeners: make(map[int]Listener),
		subs:      make(map[int]chan Event),
	}
}

func (h *eventHub) addListener(l Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.order = append(h.order, id)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
		for i, existing := range h.order {
			if existing == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
}

func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *eventHub) emit(e Event) {
	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.order))
	for _, id := range h.order {
		listeners = append(listeners, h.listeners[id])
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		if err := async.Call(func() error { l.OnEvent(e); return nil }); err != nil {
			h.logger.Error("event listener panicked on %s for %s: %v", e.Type, e.Task.ID, err)
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
			continue
		default:
		}
		if !e.terminal() {
			h.logger.Warn("Subscriber buffer full, dropping %s for %s", e.Type, e.Task.ID)
			continue
		}
		// Terminal events displace the oldest buffered event.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
			h.logger.Warn("Subscriber buffer saturated, dropped oldest event to deliver %s for %s", e.Type, e.Task.ID)
		default:
			h.logger.Warn("Subscriber buffer full, dropping %s for %s", e.Type, e.Task.ID)
		}
	}
}
