package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// Handler receives published events
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    Kind // empty for catch-all subscriptions
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe hub scoped to one page.
// Handlers run on the publishing goroutine, in subscription order, outside
// the bus lock so they may publish or subscribe themselves.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	log    *logger.Logger
	url    string
}

// NewBus creates an empty bus. url is stamped on errors raised by handlers.
func NewBus(url string, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Get()
	}
	return &Bus{
		log: log.Component("events"),
		url: url,
	}
}

// Subscribe registers h for events of kind and returns a function that
// removes the subscription.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	return b.add(kind, h)
}

// SubscribeAll registers h for every event
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add("", h)
}

func (b *Bus) add(kind Kind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching handler. Producers get no
// acknowledgment; a panicking handler is turned into an AppError event.
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == e.Kind() {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		stack := string(debug.Stack())
		b.log.Error("Event handler panicked", map[string]interface{}{
			"event": string(e.Kind()),
			"panic": fmt.Sprint(rec),
		})
		// A failing error handler must not feed itself
		if e.Kind() == KindAppError {
			return
		}
		b.Publish(AppError{
			Type:      "Global Error",
			Error:     fmt.Sprint(rec),
			Stack:     stack,
			URL:       b.url,
			Timestamp: time.Now().UTC(),
		})
	}()
	h(e)
}

// Len reports the number of active subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
