package xhrmock

import (
	"log/slog"
	"net/http"

	"libdb.so/go-xhrmock/eventloop"
)

// Factory constructs the [XMLHttpRequest] used by code under test. Code that
// wants to be mockable keeps a Factory variable and calls it instead of
// constructing requests directly; [XHRMock.Setup] swaps it out.
type Factory func() XMLHttpRequest

// XHRMock is the entry point for tests. It owns a [Registry] and creates
// [XHR] values bound to it and to its event loop.
//
// Several XHRMock values can coexist, each with its own registry.
type XHRMock struct {
	loop     *eventloop.EventLoop
	registry *Registry
	opts     Options

	slot     *Factory
	original Factory
}

// New creates an XHRMock whose requests run on loop.
func New(loop *eventloop.EventLoop, opts *Options) *XHRMock {
	m := &XHRMock{
		loop:     loop,
		registry: NewRegistry(),
		opts:     *use(opts, &Options{}),
	}
	m.Reset()
	return m
}

// Registry returns the handler registry.
func (m *XHRMock) Registry() *Registry { return m.registry }

// Loop returns the event loop requests run on.
func (m *XHRMock) Loop() *eventloop.EventLoop { return m.loop }

// NewXHR creates an unsent mocked request.
func (m *XHRMock) NewXHR() *XHR {
	return NewXHR(m.loop, m.registry, &m.opts)
}

// Setup installs the mock into slot, remembering the Factory it held, and
// resets the registry. Calling Setup again while installed restores the
// previous slot first.
func (m *XHRMock) Setup(slot *Factory) *XHRMock {
	if m.slot != nil {
		m.restore()
	}
	m.slot = slot
	m.original = *slot
	*slot = func() XMLHttpRequest { return m.NewXHR() }
	return m.Reset()
}

// Teardown restores the Factory replaced by Setup and resets the registry. It
// is a no-op on the slot if the mock is not installed.
func (m *XHRMock) Teardown() *XHRMock {
	if m.slot != nil {
		m.restore()
	}
	return m.Reset()
}

func (m *XHRMock) restore() {
	*m.slot = m.original
	m.slot = nil
	m.original = nil
}

// Reset removes every handler and restores the default error callback, which
// logs error outcomes. Reset is idempotent.
func (m *XHRMock) Reset() *XHRMock {
	m.registry.Reset()
	m.registry.SetErrorCallback(LogErrorCallback(use(m.opts.Logger, slog.Default())))
	return m
}

// Error replaces the callback notified of error outcomes.
func (m *XHRMock) Error(fn ErrorCallback) *XHRMock {
	m.registry.SetErrorCallback(fn)
	return m
}

// Use registers h for every request.
func (m *XHRMock) Use(h Handler) *XHRMock {
	m.registry.Use(h)
	return m
}

// Route registers h for requests matching method and url.
func (m *XHRMock) Route(method string, url Pattern, h Handler) *XHRMock {
	return m.Use(Route(method, url, h))
}

// Get registers h for GET requests matching url.
func (m *XHRMock) Get(url Pattern, h Handler) *XHRMock {
	return m.Route(http.MethodGet, url, h)
}

// Post registers h for POST requests matching url.
func (m *XHRMock) Post(url Pattern, h Handler) *XHRMock {
	return m.Route(http.MethodPost, url, h)
}

// Put registers h for PUT requests matching url.
func (m *XHRMock) Put(url Pattern, h Handler) *XHRMock {
	return m.Route(http.MethodPut, url, h)
}

// Patch registers h for PATCH requests matching url.
func (m *XHRMock) Patch(url Pattern, h Handler) *XHRMock {
	return m.Route(http.MethodPatch, url, h)
}

// Delete registers h for DELETE requests matching url.
func (m *XHRMock) Delete(url Pattern, h Handler) *XHRMock {
	return m.Route(http.MethodDelete, url, h)
}
