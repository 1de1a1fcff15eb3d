package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventHandler runs one reconciliation flow.
type EventHandler interface {
	Handle(ctx context.Context, ev Event) (Result, error)
}

// Dispatcher debounces watcher events per location and hands each settled
// event to the handler. Events for different locations run concurrently.
type Dispatcher struct {
	handler   EventHandler
	debouncer *PathDebouncer

	mu      sync.Mutex
	pending map[string]Event
}

func NewDispatcher(handler EventHandler, quiet time.Duration) *Dispatcher {
	return &Dispatcher{
		handler:   handler,
		debouncer: NewPathDebouncer(quiet),
		pending:   make(map[string]Event),
	}
}

// Submit folds ev into whatever is pending for its location and restarts that
// location's quiet window. A rename also takes over the event pending at its
// old location, so a file created and then moved within one window is still a
// single create.
func (d *Dispatcher) Submit(ev Event) {
	key := ev.Location.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ev.Kind == EventRename {
		fromKey := ev.From.Key()
		if prev, ok := d.pending[fromKey]; ok && fromKey != key {
			delete(d.pending, fromKey)
			d.debouncer.Cancel(fromKey)
			switch prev.Kind {
			case EventCreate:
				ev = Event{Kind: EventCreate, Location: ev.Location}
			case EventRename:
				ev.From = prev.From
			}
		}
	}
	if prev, ok := d.pending[key]; ok {
		ev = merge(prev, ev)
	}
	d.pending[key] = ev
	d.debouncer.Notify(key, func() { d.run(key) })
}

func (d *Dispatcher) run(key string) {
	d.mu.Lock()
	ev, ok := d.pending[key]
	delete(d.pending, key)
	d.mu.Unlock()
	if !ok {
		return
	}

	// In-flight flows are never cancelled; Close waits for them instead.
	if _, err := d.handler.Handle(context.Background(), ev); err != nil {
		log.Error().Err(err).Str("path", key).Str("flow", string(ev.Kind)).Msg("Failed to reconcile event")
	}
}

// Pending is the number of locations waiting for their quiet window.
func (d *Dispatcher) Pending() int {
	return d.debouncer.Pending()
}

// Close drops pending events and waits for running flows to finish.
func (d *Dispatcher) Close() {
	d.debouncer.Close()

	d.mu.Lock()
	clear(d.pending)
	d.mu.Unlock()
}
