package xhrmock

import (
	"encoding/json"
	"fmt"
)

// Response is populated by a handler. Once the handler returns it to the
// engine it is sealed, and its state becomes the response state of the [XHR]
// when the request is done.
type Response struct {
	status int
	reason string
	header Header
	body   any
	sealed bool
}

// NewResponse creates an empty, unsealed Response.
func NewResponse() *Response {
	return &Response{}
}

func (r *Response) mutate(what string) {
	if r.sealed {
		panic(fmt.Errorf("%w: cannot set response %s after it was returned", ErrSealed, what))
	}
}

// Status returns the status code, or 0 if none was set.
func (r *Response) Status() int { return r.status }

// SetStatus sets the status code.
func (r *Response) SetStatus(status int) *Response {
	r.mutate("status")
	r.status = status
	return r
}

// Reason returns the status text.
func (r *Response) Reason() string { return r.reason }

// SetReason sets the status text.
func (r *Response) SetReason(reason string) *Response {
	r.mutate("reason")
	r.reason = reason
	return r
}

// Header returns the value of the named header, or an empty string.
func (r *Response) Header(name string) string { return r.header.Get(name) }

// SetHeader sets the named header.
func (r *Response) SetHeader(name, value string) *Response {
	r.mutate("header")
	r.header.Set(name, value)
	return r
}

// Headers returns a copy of all headers.
func (r *Response) Headers() map[string]string { return r.header.Map() }

// SetHeaders sets every header in headers.
func (r *Response) SetHeaders(headers map[string]string) *Response {
	r.mutate("headers")
	for name, value := range NewHeader(headers).All() {
		r.header.Set(name, value)
	}
	return r
}

// Body returns the body, or nil if none was set.
func (r *Response) Body() any { return r.body }

// SetBody sets the body.
func (r *Response) SetBody(body any) *Response {
	r.mutate("body")
	r.body = body
	return r
}

// SetJSON encodes v as the body and sets the content-type header to
// application/json unless it is already set. Values that cannot be encoded
// panic, like other programmer mistakes when building a response.
func (r *Response) SetJSON(v any) *Response {
	r.mutate("body")
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("xhrmock: cannot encode response body: %w", err))
	}
	r.body = string(b)
	if !r.header.Has("content-type") {
		r.header.Set("content-type", "application/json")
	}
	return r
}

// Sealed reports whether the response can no longer be changed.
func (r *Response) Sealed() bool { return r.sealed }

func (r *Response) seal() { r.sealed = true }
