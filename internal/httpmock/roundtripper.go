// Package httpmock provides a sequenced [http.RoundTripper] for testing code
// that talks to real servers.
package httpmock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
)

// RoundTrip defines the behavior for a single HTTP exchange in the sequence.
type RoundTrip struct {
	RequestCheck RoundTripRequestCheck
	Response     RoundTripResponse
}

// RoundTripRequestCheck defines a function type for checking HTTP requests.
type RoundTripRequestCheck func(t *testing.T, req *http.Request)

// RoundTripRequestCheckJSON creates a RoundTripRequestCheck that parses the
// request body as JSON into the specified type T and applies the provided check
// function.
func RoundTripRequestCheckJSON[T any](checkFn func(t *testing.T, data T)) RoundTripRequestCheck {
	return func(t *testing.T, req *http.Request) {
		var data T
		if err := json.NewDecoder(req.Body).Decode(&data); err != nil {
			t.Fatalf("roundtrip request check: failed to unmarshal request body as JSON: %v", err)
		}
		checkFn(t, data)
	}
}

// RoundTripRequestCheckHeader creates a RoundTripRequestCheck that asserts the
// request carries the given header value.
func RoundTripRequestCheckHeader(name, value string) RoundTripRequestCheck {
	return func(t *testing.T, req *http.Request) {
		if got := req.Header.Get(name); got != value {
			t.Errorf("roundtrip request check: header %q = %q, want %q", name, got, value)
		}
	}
}

// ChainRoundTripRequestChecks chains multiple RoundTripRequestCheck functions
// into a single RoundTripRequestCheck.
func ChainRoundTripRequestChecks(checks ...RoundTripRequestCheck) RoundTripRequestCheck {
	return func(t *testing.T, req *http.Request) {
		for _, check := range checks {
			check(t, req)
		}
	}
}

// RoundTripResponse defines the components of an HTTP response.
type RoundTripResponse struct {
	Status int
	// Reason is the reason phrase. Defaults to the canonical status text.
	Reason  string
	Headers map[string]string
	Body    []byte
	// Error allows simulating a network error (RoundTrip returns error)
	Error error
}

// RoundTripper is a simplistic http.RoundTripper that serves a pre-defined
// sequence of responses. It is safe for concurrent use, and it fails the test
// if the test ends before every response was served.
type RoundTripper struct {
	t     *testing.T
	mu    sync.Mutex
	resps []RoundTrip
	index int
}

// NewRoundTripper creates a new [RoundTripper].
func NewRoundTripper(t *testing.T, resps []RoundTrip) *RoundTripper {
	m := &RoundTripper{
		t:     t,
		resps: resps,
	}
	t.Cleanup(func() {
		if n := m.Served(); n < len(m.resps) {
			t.Errorf("httpmock: only %d of %d responses were served", n, len(m.resps))
		}
	})
	return m
}

// Served returns how many round trips were served so far.
func (m *RoundTripper) Served() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// RoundTrip implements the http.RoundTripper interface.
func (m *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	if m.index >= len(m.resps) {
		index := m.index
		m.mu.Unlock()
		m.t.Errorf("httpmock: no more responses configured (index %d out of %d)", index, len(m.resps))
		return nil, errors.New("httpmock: no more responses configured")
	}
	rt := m.resps[m.index]
	m.index++
	m.mu.Unlock()

	if rt.RequestCheck != nil {
		m.t.Run("request_check", func(t *testing.T) {
			rt.RequestCheck(t, req)
		})
	}

	if rt.Response.Error != nil {
		return nil, rt.Response.Error
	}

	statusCode := rt.Response.Status
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	reason := rt.Response.Reason
	if reason == "" {
		reason = http.StatusText(statusCode)
	}

	header := make(http.Header, len(rt.Response.Headers))
	for k, v := range rt.Response.Headers {
		header.Add(k, v)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%s %s", strconv.Itoa(statusCode), reason),
		StatusCode:    statusCode,
		Body:          io.NopCloser(bytes.NewReader(rt.Response.Body)),
		ContentLength: int64(len(rt.Response.Body)),
		Header:        header,
		Request:       req,
	}, nil
}
