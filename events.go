package ztsock

import (
	"sync"

	"github.com/opd-ai/ztsock/engine"
)

// eventRouter fans engine events out to the user handler and to waiters.
// Waiters only need to know that something changed, so each subscriber
// channel holds at most one pending signal.
type eventRouter struct {
	mu      sync.Mutex
	handler engine.EventHandler
	subs    map[int]chan struct{}
	nextID  int
}

func newEventRouter(h engine.EventHandler) *eventRouter {
	return &eventRouter{
		handler: h,
		subs:    make(map[int]chan struct{}),
	}
}

// subscribe registers a waiter. The returned cancel func must be called
// once the waiter is done.
func (r *eventRouter) subscribe() (<-chan struct{}, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan struct{}, 1)
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *eventRouter) dispatch(msg engine.EventMessage) {
	r.mu.Lock()
	h := r.handler
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	r.mu.Unlock()

	if h != nil {
		h(msg)
	}
}
