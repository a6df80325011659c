package xhrmock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidHandler is the panic value used when a handler is registered with
// malformed arguments.
var ErrInvalidHandler = errors.New("xhrmock: invalid handler")

// Handler decides whether it matches a request and, if so, produces the
// response.
//
// Handle returns (nil, nil) to signal no match, in which case the next handler
// is tried. A non-nil error ends resolution and becomes the error outcome of
// the request. A handler may block, but it must return once ctx is done: the
// engine cancels ctx when the request is aborted, times out or is re-opened.
//
// The returned response may be res itself or another response; either way it
// must not be changed after Handle returns.
type Handler interface {
	Handle(ctx context.Context, req *Request, res *Response) (*Response, error)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, req *Request, res *Response) (*Response, error)

// Handle implements [Handler].
func (f HandlerFunc) Handle(ctx context.Context, req *Request, res *Response) (*Response, error) {
	return f(ctx, req, res)
}

// MockSpec is a [Handler] that always matches and fills in a static response.
type MockSpec struct {
	// Status is the status code. Zero means 200.
	Status int
	// Reason is the status text.
	Reason string
	// Headers are set on the response in sorted name order.
	Headers map[string]string
	// Body is the response body; nil means no body.
	Body any
}

var _ Handler = MockSpec{}

// Handle implements [Handler].
func (m MockSpec) Handle(ctx context.Context, req *Request, res *Response) (*Response, error) {
	status := m.Status
	if status == 0 {
		status = http.StatusOK
	}
	return res.
		SetStatus(status).
		SetReason(m.Reason).
		SetHeaders(m.Headers).
		SetBody(m.Body), nil
}

// Pattern matches request URLs. *regexp.Regexp satisfies it.
type Pattern interface {
	MatchString(url string) bool
}

// Exact is a [Pattern] matching only the URL equal to it.
type Exact string

// MatchString implements [Pattern].
func (e Exact) MatchString(url string) bool { return string(e) == url }

// Glob is a [Pattern] with a single optional wildcard at either end: "*"
// matches everything, "prefix*" and "*suffix" match by prefix and suffix, and
// anything else must match exactly.
type Glob string

// MatchString implements [Pattern].
func (g Glob) MatchString(url string) bool {
	pattern := string(g)
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(url, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(url, pattern[:len(pattern)-1])
	default:
		return url == pattern
	}
}

// Route returns a [Handler] that delegates to h when the request method equals
// method (case-insensitively) and its URL matches url. Any other request is a
// no match. Route panics with [ErrInvalidHandler] if method is empty or url
// or h is nil.
func Route(method string, url Pattern, h Handler) Handler {
	switch {
	case method == "":
		panic(fmt.Errorf("%w: empty method", ErrInvalidHandler))
	case url == nil:
		panic(fmt.Errorf("%w: nil URL pattern", ErrInvalidHandler))
	case h == nil:
		panic(fmt.Errorf("%w: nil mock for %s %v", ErrInvalidHandler, method, url))
	}

	return HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
		if !strings.EqualFold(req.Method(), method) || !url.MatchString(req.URL()) {
			return nil, nil
		}
		return h.Handle(ctx, req, res)
	})
}
