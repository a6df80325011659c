// Package eventloop provides a cooperative, single-goroutine task loop. Work
// started on other goroutines reports back by reserving a callback with
// [EventLoop.RegisterCallback] and enqueuing its continuation through it, so
// every continuation runs on the goroutine that called [EventLoop.Start].
package eventloop

import (
	"context"
	"sync"
)

// EventLoop runs queued tasks one at a time, in the order they were queued.
type EventLoop struct {
	lock                sync.Mutex
	queue               []func() error
	wakeupCh            chan struct{}
	registeredCallbacks int
}

// New creates a new [EventLoop].
func New() *EventLoop {
	return &EventLoop{
		wakeupCh: make(chan struct{}, 1),
	}
}

func (e *EventLoop) wakeup() {
	select {
	case e.wakeupCh <- struct{}{}:
	default:
	}
}

// RegisterCallback reserves a slot on the loop. Until the returned function is
// called, [EventLoop.Start] will not return. The returned function enqueues
// its argument to run on the loop and must be called exactly once; calling it
// a second time panics. It is safe to call from any goroutine.
func (e *EventLoop) RegisterCallback() (enqueueCallback func(func() error)) {
	e.lock.Lock()
	e.registeredCallbacks++
	e.lock.Unlock()

	var called bool
	return func(f func() error) {
		e.lock.Lock()
		if called {
			e.lock.Unlock()
			panic("eventloop: registered callback enqueued twice")
		}
		called = true
		e.queue = append(e.queue, f)
		e.registeredCallbacks--
		e.lock.Unlock()
		e.wakeup()
	}
}

// Queue enqueues f to run on the loop after everything already queued.
func (e *EventLoop) Queue(f func() error) {
	e.RegisterCallback()(f)
}

// Pending reports the number of registered callbacks that have not been
// enqueued yet.
func (e *EventLoop) Pending() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.registeredCallbacks
}

func (e *EventLoop) popAll() (queue []func() error, awaiting bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	queue = e.queue
	e.queue = nil
	return queue, e.registeredCallbacks > 0
}

// Start enqueues first (if not nil) and runs the loop on the calling goroutine
// until the queue is empty and no registered callback is outstanding.
//
// If a task returns an error, Start returns it immediately and the tasks that
// were still queued are dropped. If ctx is done while the loop is waiting on
// registered callbacks, ctx.Err() is returned. Panics raised by tasks are not
// recovered.
func (e *EventLoop) Start(ctx context.Context, first func() error) error {
	if first != nil {
		e.lock.Lock()
		e.queue = append(e.queue, first)
		e.lock.Unlock()
	}

	for {
		queue, awaiting := e.popAll()
		if len(queue) == 0 {
			if !awaiting {
				return nil
			}
			select {
			case <-e.wakeupCh:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, f := range queue {
			if err := f(); err != nil {
				return err
			}
		}
	}
}
