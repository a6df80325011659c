package xhrmock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
)

// ProxyOptions configures [Proxy].
type ProxyOptions struct {
	// HTTPClient sends the forwarded requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// TokenSource, if set, authorizes every forwarded request with a bearer
	// token taken from it.
	TokenSource oauth2.TokenSource
	// MaxRetries is how many times a request that failed in transport with a
	// timeout or temporary error is retried, with exponential backoff. Other
	// transport errors, such as an unsupported URL scheme, fail at once.
	// Responses are never retried, whatever their status.
	MaxRetries uint
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Proxy returns a [Handler] that performs every request it sees over the
// network and copies the real response into the mocked one. It always
// matches. Transport failures become the error outcome of the request.
//
// Proxy is usually registered last, so that requests no other handler matched
// reach the real server.
func Proxy(opts *ProxyOptions) Handler {
	opts = use(opts, &ProxyOptions{})

	client := use(opts.HTTPClient, http.DefaultClient)
	if opts.TokenSource != nil {
		authorized := *client
		authorized.Transport = &oauth2.Transport{
			Source: opts.TokenSource,
			Base:   client.Transport,
		}
		client = &authorized
	}

	p := &proxy{
		client:     client,
		maxRetries: opts.MaxRetries,
		logger:     use(opts.Logger, slog.Default()),
	}
	return HandlerFunc(p.handle)
}

type proxy struct {
	client     *http.Client
	maxRetries uint
	logger     *slog.Logger
}

func (p *proxy) handle(ctx context.Context, req *Request, res *Response) (*Response, error) {
	body, contentType, err := proxyBody(req.Body())
	if err != nil {
		return nil, err
	}

	do := func() (*http.Response, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method(), req.URL(), r)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create proxied request: %w", err))
		}
		for name, value := range req.header.All() {
			httpReq.Header.Set(name, value)
		}
		if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", contentType)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, backoff.Permanent(ctxErr)
			}
			if !retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	p.logger.Debug(
		"proxying mocked request",
		"request_id", req.ID(),
		"method", req.Method(),
		"url", req.URL())

	resp, err := backoff.Retry(ctx, do,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.maxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.logger.Debug(
				"retrying proxied request",
				"request_id", req.ID(),
				"wait", wait,
				"err", err)
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to proxy %s %s: %w", req.Method(), req.URL(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxied response body: %w", err)
	}

	res.SetStatus(resp.StatusCode).SetReason(statusReason(resp))
	for _, name := range slices.Sorted(maps.Keys(resp.Header)) {
		res.SetHeader(strings.ToLower(name), strings.Join(resp.Header[name], ", "))
	}
	res.SetBody(string(respBody))

	p.logger.Debug(
		"proxied mocked request",
		"request_id", req.ID(),
		"status", resp.StatusCode,
		"body_length", len(respBody))

	return res, nil
}

// proxyBody encodes a request body for the wire. A nil body stays nil so that
// the forwarded request has no body at all, while an empty string is sent as
// an empty body.
func proxyBody(body any) (b []byte, contentType string, err error) {
	switch body.(type) {
	case nil:
		return nil, "", nil
	case string, []byte:
		b, _ = bodyBytes(body)
		if b == nil {
			b = []byte{}
		}
		return b, "", nil
	}

	text, err := bodyText(body)
	if err != nil {
		return nil, "", errors.Join(ErrInvalidArguments, err)
	}
	return []byte(text), "application/json", nil
}

// statusReason returns the reason phrase of resp, falling back to the
// canonical text of its status code.
func statusReason(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason, ok := strings.CutPrefix(resp.Status, code+" "); ok {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// retryable reports whether a transport error may go away on its own.
func retryable(err error) bool {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return true
	}
	return urlErr.Timeout() || urlErr.Temporary()
}
