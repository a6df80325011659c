package xhrmock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Once returns a [Handler] that delegates to h for the first request it sees
// and declines every request after that. The first request consumes it even
// if h does not match.
func Once(h Handler) Handler {
	if h == nil {
		panic(ErrInvalidHandler)
	}
	var used atomic.Bool
	return HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		if !used.CompareAndSwap(false, true) {
			return nil, nil
		}
		return h.Handle(ctx, req, res)
	})
}

// Delay returns a [Handler] that holds the outcome of h for d before handing
// it to the engine. Requests h declines are passed on immediately. If ctx is
// done first, the context error is returned.
func Delay(h Handler, d time.Duration) Handler {
	if h == nil {
		panic(ErrInvalidHandler)
	}
	return HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		matched, err := h.Handle(ctx, req, res)
		if matched == nil && err == nil {
			return nil, nil
		}

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return matched, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// Sequence returns a [Handler] that answers the n-th request it sees with the
// n-th handler. Once every handler was used, it declines.
func Sequence(hs ...Handler) Handler {
	for _, h := range hs {
		if h == nil {
			panic(ErrInvalidHandler)
		}
	}

	var mu sync.Mutex
	var next int
	return HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		mu.Lock()
		if next >= len(hs) {
			mu.Unlock()
			return nil, nil
		}
		h := hs[next]
		next++
		mu.Unlock()

		return h.Handle(ctx, req, res)
	})
}
