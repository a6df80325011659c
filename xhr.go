package xhrmock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"libdb.so/go-xhrmock/eventloop"
)

// ReadyState is the state of an [XHR]. The numeric values match the platform
// constants.
type ReadyState int

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

// String returns the platform name of the state.
func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case Opened:
		return "OPENED"
	case HeadersReceived:
		return "HEADERS_RECEIVED"
	case Loading:
		return "LOADING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// ResponseType selects how [XHR.Response] decodes the response body.
type ResponseType string

const (
	ResponseTypeDefault     ResponseType = ""
	ResponseTypeText        ResponseType = "text"
	ResponseTypeJSON        ResponseType = "json"
	ResponseTypeBlob        ResponseType = "blob"
	ResponseTypeArrayBuffer ResponseType = "arraybuffer"
	ResponseTypeDocument    ResponseType = "document"
)

func (t ResponseType) valid() bool {
	switch t {
	case ResponseTypeDefault, ResponseTypeText, ResponseTypeJSON,
		ResponseTypeBlob, ResponseTypeArrayBuffer, ResponseTypeDocument:
		return true
	default:
		return false
	}
}

func (t ResponseType) isText() bool {
	return t == ResponseTypeDefault || t == ResponseTypeText
}

// Usage errors returned synchronously by [XHR] methods.
var (
	ErrInvalidState        = errors.New("xhrmock: invalid state")
	ErrInvalidArguments    = errors.New("xhrmock: invalid arguments")
	ErrInvalidResponseType = errors.New("xhrmock: invalid response type")
)

// XMLHttpRequest is the request object code under test talks to. [XHR] is the
// mocked implementation.
type XMLHttpRequest interface {
	Open(method, url string) error
	SetRequestHeader(name, value string) error
	Send(body any) error
	Abort()

	ReadyState() ReadyState
	Status() int
	StatusText() string
	GetResponseHeader(name string) (string, bool)
	GetAllResponseHeaders() string
	ResponseText() (string, error)
	Response() any

	AddEventListener(typ EventType, fn Listener) ListenerID
	RemoveEventListener(typ EventType, id ListenerID)
	On(typ EventType, fn Listener)
}

// Options configures [XHR] and [XHRMock].
type Options struct {
	// Logger receives debug logs about the request lifecycle. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// BaseURL, if set, is used to resolve the URLs given to Open.
	BaseURL *url.URL
}

func use[T any](v, otherwise *T) *T {
	if v != nil {
		return v
	}
	return otherwise
}

// XHR is a mocked XMLHttpRequest. Sending it resolves a handler from its
// [Registry] instead of touching the network, and then replays the events a
// browser would dispatch for the outcome.
//
// An XHR belongs to an [eventloop.EventLoop]: its methods must be called from
// the goroutine running the loop (or before the loop starts), and all of its
// events are dispatched there.
type XHR struct {
	*EventTarget

	loop     *eventloop.EventLoop
	registry *Registry
	logger   *slog.Logger
	baseURL  *url.URL

	upload       *EventTarget
	state        ReadyState
	timeout      time.Duration
	responseType ResponseType

	req     *Request
	res     *Response
	op      *sendOp
	sending bool

	aborted  bool
	errored  bool
	timedOut bool
	err      error
}

var _ XMLHttpRequest = (*XHR)(nil)

// NewXHR creates an unsent XHR that resolves its requests with registry and
// runs its events on loop.
func NewXHR(loop *eventloop.EventLoop, registry *Registry, opts *Options) *XHR {
	opts = use(opts, &Options{})
	return &XHR{
		EventTarget: NewEventTarget(),
		loop:        loop,
		registry:    registry,
		logger:      use(opts.Logger, slog.Default()),
		baseURL:     opts.BaseURL,
		upload:      NewEventTarget(),
	}
}

func (x *XHR) setState(state ReadyState) {
	x.state = state
	x.Dispatch(&Event{Type: EventReadyStateChange})
}

func (x *XHR) resolveURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	if x.baseURL == nil {
		return rawURL, nil
	}
	return x.baseURL.ResolveReference(u).String(), nil
}

// Open starts a new request, discarding any request still in flight without
// dispatching events for it. It dispatches readystatechange before returning.
func (x *XHR) Open(method, rawURL string) error {
	if method == "" || rawURL == "" {
		return fmt.Errorf("%w: method and url are required", ErrInvalidArguments)
	}

	resolved, err := x.resolveURL(rawURL)
	if err != nil {
		return err
	}

	if x.op != nil {
		x.op.invalidate()
		x.op = nil
	}

	x.req = &Request{id: uuid.NewString(), method: method, url: resolved}
	x.res = nil
	x.sending = false
	x.aborted, x.errored, x.timedOut = false, false, false
	x.err = nil

	x.logger.Debug(
		"opened mocked request",
		"request_id", x.req.ID(),
		"method", method,
		"url", resolved)

	x.setState(Opened)
	return nil
}

// SetRequestHeader sets a request header. It fails unless the request is
// opened and not sent yet.
func (x *XHR) SetRequestHeader(name, value string) error {
	if x.state != Opened || x.sending {
		return fmt.Errorf("%w: headers can only be set after open and before send", ErrInvalidState)
	}
	if name == "" {
		return fmt.Errorf("%w: empty header name", ErrInvalidArguments)
	}
	x.req.SetHeader(name, value)
	return nil
}

// Abort cancels the request in flight. The handler result, if it arrives
// later, is discarded, and a pending timeout never fires. A response whose
// events are being dispatched can still be aborted until the request reaches
// Done; it is then never exposed. If a request was in flight,
// readystatechange (for Done), abort and loadend are dispatched. Aborting an
// opened request that was never sent only returns it to Unsent.
func (x *XHR) Abort() {
	if op := x.op; op != nil {
		switch {
		case op.delivering:
			op.delivering = false
			x.abort(op)
			return
		case op.settle():
			op.release()
			x.abort(op)
			return
		}
	}

	if x.state == Opened && !x.sending {
		x.state = Unsent
		x.req = nil
	}
}

func (x *XHR) abort(op *sendOp) {
	op.aborted = true
	x.aborted = true
	x.sending = false

	x.logger.Debug(
		"aborted mocked request",
		"request_id", x.req.ID())

	x.run(op, []func(){
		func() { x.setState(Done) },
		func() { x.Dispatch(&Event{Type: EventAbort}) },
		func() { x.Dispatch(&Event{Type: EventLoadEnd}) },
	})
}

// SetTimeout sets how long a request may wait for its handler. Zero disables
// the timeout. The value applies to subsequent calls to Send.
func (x *XHR) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidArguments, d)
	}
	x.timeout = d
	return nil
}

// Timeout returns the timeout set with SetTimeout.
func (x *XHR) Timeout() time.Duration { return x.timeout }

// SetResponseType sets how Response decodes the body. It fails once the
// response is loading or done.
func (x *XHR) SetResponseType(t ResponseType) error {
	if x.state == Loading || x.state == Done {
		return fmt.Errorf("%w: response type cannot change while loading or done", ErrInvalidState)
	}
	if !t.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResponseType, string(t))
	}
	x.responseType = t
	return nil
}

// ResponseType returns the response type.
func (x *XHR) ResponseType() ResponseType { return x.responseType }

// ReadyState returns the current state.
func (x *XHR) ReadyState() ReadyState { return x.state }

// Upload returns the target of upload events. They are only dispatched for
// requests sent with a body.
func (x *XHR) Upload() *EventTarget { return x.upload }

// Request returns the current request, or nil if the XHR is not opened.
func (x *XHR) Request() *Request { return x.req }

// Err returns the error of an error outcome: the handler error or an error
// wrapping [ErrNoHandler]. It is nil for every other outcome.
func (x *XHR) Err() error { return x.err }

// Aborted reports whether the request ended by Abort.
func (x *XHR) Aborted() bool { return x.aborted }

// Errored reports whether the request ended with an error outcome.
func (x *XHR) Errored() bool { return x.errored }

// TimedOut reports whether the request ended by timing out.
func (x *XHR) TimedOut() bool { return x.timedOut }

// Status returns the response status, or 0 until a response is done.
func (x *XHR) Status() int {
	if x.res == nil {
		return 0
	}
	return x.res.Status()
}

// StatusText returns the response reason.
func (x *XHR) StatusText() string {
	if x.res == nil {
		return ""
	}
	return x.res.Reason()
}

// ResponseURL returns the URL of the response once it is done.
func (x *XHR) ResponseURL() string {
	if x.res == nil {
		return ""
	}
	return x.req.URL()
}

// GetResponseHeader returns the named response header and whether it is set.
func (x *XHR) GetResponseHeader(name string) (string, bool) {
	if x.res == nil {
		return "", false
	}
	return x.res.header.Lookup(name)
}

// GetAllResponseHeaders returns the response headers as "name: value\r\n"
// lines, in the order they were first set.
func (x *XHR) GetAllResponseHeaders() string {
	if x.res == nil {
		return ""
	}
	return x.res.header.String()
}

// ResponseText returns the response body as text. Structured bodies are
// encoded as JSON. It fails if the response type is not text.
func (x *XHR) ResponseText() (string, error) {
	if !x.responseType.isText() {
		return "", fmt.Errorf("%w: responseText requires a text response type, have %q", ErrInvalidState, string(x.responseType))
	}
	if x.res == nil {
		return "", nil
	}
	return bodyText(x.res.Body())
}

// Response returns the response body decoded according to the response type:
// text as a string, json as the decoded value (nil if the body is not valid
// JSON), blob and arraybuffer as bytes, and document as the raw body.
// Non-text types give nil until the response is done.
func (x *XHR) Response() any {
	if x.res == nil {
		if x.responseType.isText() {
			return ""
		}
		return nil
	}

	body := x.res.Body()
	switch x.responseType {
	case ResponseTypeJSON:
		b, ok := bodyBytes(body)
		if !ok {
			return body
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil
		}
		return v
	case ResponseTypeBlob, ResponseTypeArrayBuffer:
		if b, ok := bodyBytes(body); ok {
			return b
		}
		text, err := bodyText(body)
		if err != nil {
			return nil
		}
		return []byte(text)
	case ResponseTypeDocument:
		return body
	default:
		text, err := bodyText(body)
		if err != nil {
			return ""
		}
		return text
	}
}

// ResponseJSON evaluates a gjson path against the response body. The result
// does not exist if the response is not done or the body is not valid JSON.
func (x *XHR) ResponseJSON(path string) gjson.Result {
	if x.res == nil {
		return gjson.Result{}
	}
	text, err := bodyText(x.res.Body())
	if err != nil || !gjson.Valid(text) {
		return gjson.Result{}
	}
	return gjson.Get(text, path)
}
