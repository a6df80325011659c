package xhrmock

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSealed is the panic value used when a sealed [Request] or [Response] is
// mutated.
var ErrSealed = errors.New("xhrmock: object is sealed")

// Request is the request a handler sees. It is built by [XHR] while the
// request is open and sealed the moment [XHR.Send] starts handler resolution.
// Setters return the request itself so calls can be chained.
type Request struct {
	id     string
	method string
	url    string
	header Header
	body   any
	sealed bool
}

// NewRequest creates an empty, unsealed Request.
func NewRequest() *Request {
	return &Request{}
}

func (r *Request) mutate(what string) {
	if r.sealed {
		panic(fmt.Errorf("%w: cannot set request %s after send", ErrSealed, what))
	}
}

// ID returns the request ID. Requests created by [XHR] get a new ID every time
// they are opened.
func (r *Request) ID() string { return r.id }

// Method returns the method as given to Open, without normalization.
func (r *Request) Method() string { return r.method }

// SetMethod sets the method.
func (r *Request) SetMethod(method string) *Request {
	r.mutate("method")
	r.method = method
	return r
}

// URL returns the request URL, resolved against the base URL if one was
// configured.
func (r *Request) URL() string { return r.url }

// SetURL sets the URL.
func (r *Request) SetURL(url string) *Request {
	r.mutate("url")
	r.url = url
	return r
}

// Header returns the value of the named header, or an empty string.
func (r *Request) Header(name string) string { return r.header.Get(name) }

// SetHeader sets the named header.
func (r *Request) SetHeader(name, value string) *Request {
	r.mutate("header")
	r.header.Set(name, value)
	return r
}

// Headers returns a copy of all headers.
func (r *Request) Headers() map[string]string { return r.header.Map() }

// SetHeaders sets every header in headers.
func (r *Request) SetHeaders(headers map[string]string) *Request {
	r.mutate("headers")
	for name, value := range NewHeader(headers).All() {
		r.header.Set(name, value)
	}
	return r
}

// Body returns the body. It is nil until a body is set, which distinguishes a
// request without a body from one with an empty body.
func (r *Request) Body() any { return r.body }

// SetBody sets the body. A nil body means no body.
func (r *Request) SetBody(body any) *Request {
	r.mutate("body")
	r.body = body
	return r
}

// Sealed reports whether the request can no longer be changed.
func (r *Request) Sealed() bool { return r.sealed }

func (r *Request) seal() { r.sealed = true }

// bodyBytes returns the bytes of a string or byte body. ok is false for other
// kinds of bodies, whose length is not known up front.
func bodyBytes(body any) (b []byte, ok bool) {
	switch body := body.(type) {
	case nil:
		return nil, true
	case string:
		return []byte(body), true
	case []byte:
		return body, true
	case json.RawMessage:
		return body, true
	default:
		return nil, false
	}
}

// bodyText renders any body as text. Structured bodies are encoded as JSON.
func bodyText(body any) (string, error) {
	if b, ok := bodyBytes(body); ok {
		return string(b), nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode body as JSON: %w", err)
	}
	return string(b), nil
}
