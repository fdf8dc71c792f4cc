package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// ErrNoHandlers is returned when an event reaches a dispatcher that has no
// subscriber for its type.
var ErrNoHandlers = errors.New("no handlers subscribed")

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

type registry struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

func (r *registry) Subscribe(eventType EventType, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[EventType][]EventHandler)
	}
	r.listeners[eventType] = append(r.listeners[eventType], handler)
}

func (r *registry) handlers(eventType EventType) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventHandler{}, r.listeners[eventType]...)
}

// deliver runs every handler for the event and joins their errors.
func (r *registry) deliver(ctx context.Context, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic for %s: %v", event.Type, recovered)
		}
	}()
	var errs []error
	for _, handler := range r.handlers(event.Type) {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InMemoryDispatcher runs handlers asynchronously on at most concurrency
// goroutines. Publish returns once the event is scheduled.
type InMemoryDispatcher struct {
	registry
	base   context.Context
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	closeMu sync.RWMutex
	closed  bool
}

// NewInMemoryDispatcher creates a dispatcher whose handlers run under base.
func NewInMemoryDispatcher(base context.Context, concurrency int, logger *zap.Logger) *InMemoryDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryDispatcher{
		base:   context.WithoutCancel(base),
		sem:    make(chan struct{}, concurrency),
		logger: logger,
	}
}

// Publish schedules handlers for the event.
func (d *InMemoryDispatcher) Publish(_ context.Context, event Event) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		if err := d.deliver(d.base, event); err != nil {
			d.logger.Error("event handler failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("case_id", event.CaseID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every scheduled event has been handled.
func (d *InMemoryDispatcher) Wait() {
	d.wg.Wait()
}

// Close rejects further events and waits for running handlers.
func (d *InMemoryDispatcher) Close() {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()
	d.wg.Wait()
}
