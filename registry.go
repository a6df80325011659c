package xhrmock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ErrNoHandler is the error outcome of a request that no handler matched.
var ErrNoHandler = errors.New("xhrmock: no handler matched the request")

// ErrorEvent describes a request that ended with an error outcome.
type ErrorEvent struct {
	Request *Request
	Err     error
}

// ErrorCallback is notified of every request that ends with an error outcome.
type ErrorCallback func(ErrorEvent)

// LogErrorCallback returns an [ErrorCallback] that logs every error outcome
// with logger.
func LogErrorCallback(logger *slog.Logger) ErrorCallback {
	return func(ev ErrorEvent) {
		logger.Error(
			"mocked request failed",
			"request_id", ev.Request.ID(),
			"method", ev.Request.Method(),
			"url", ev.Request.URL(),
			"err", ev.Err)
	}
}

// Registry is an ordered list of handlers. Handlers are tried in registration
// order and the first match wins.
//
// A Registry is safe for concurrent use: resolutions run on their own
// goroutines while the event loop may register more handlers.
type Registry struct {
	mu            sync.RWMutex
	handlers      []Handler
	errorCallback ErrorCallback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Use appends h. The same handler may be added more than once. Use panics with
// [ErrInvalidHandler] if h is nil.
func (r *Registry) Use(h Handler) {
	if h == nil {
		panic(fmt.Errorf("%w: nil handler", ErrInvalidHandler))
	}
	r.mu.Lock()
	r.handlers = append(r.handlers, h)
	r.mu.Unlock()
}

// Reset removes all handlers.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.handlers = nil
	r.mu.Unlock()
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// SetErrorCallback sets the callback notified of error outcomes. A nil
// callback disables notifications.
func (r *Registry) SetErrorCallback(fn ErrorCallback) {
	r.mu.Lock()
	r.errorCallback = fn
	r.mu.Unlock()
}

func (r *Registry) notifyError(ev ErrorEvent) {
	r.mu.RLock()
	fn := r.errorCallback
	r.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (r *Registry) snapshot() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers)
}

// Resolve tries the handlers registered at the time of the call, in order,
// until one matches. Handlers registered while Resolve runs are not
// consulted.
//
// A handler error or panic ends resolution with that error. If ctx is done
// before a handler matches, ctx.Err() is returned. If every handler declines,
// the error is [ErrNoHandler].
func (r *Registry) Resolve(ctx context.Context, req *Request, res *Response) (*Response, error) {
	for i, h := range r.snapshot() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matched, err := callHandler(ctx, h, req, res)
		if err != nil {
			return nil, fmt.Errorf("handler %d: %w", i, err)
		}
		if matched != nil {
			return matched, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNoHandler, req.Method(), req.URL())
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func callHandler(ctx context.Context, h Handler, req *Request, res *Response) (matched *Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			matched = nil
			err = &PanicError{Value: v}
		}
	}()
	return h.Handle(ctx, req, res)
}
