// Package fixture loads mocks declared in YAML files.
//
// A fixture file looks like this:
//
//	mocks:
//	  - name: create widget
//	    method: POST
//	    url_glob: "*/widgets"
//	    match:
//	      json:
//	        - path: name
//	          value: sprocket
//	    response:
//	      status: 201
//	      json: {id: 1, name: sprocket}
//	  - name: flaky health check
//	    method: GET
//	    url: https://example.com/health
//	    sequence:
//	      - status: 503
//	      - status: 200
//	        body: ok
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
	"libdb.so/go-xhrmock"
)

// ErrInvalidFixture is returned for fixture files that parse but describe an
// unusable mock.
var ErrInvalidFixture = errors.New("fixture: invalid mock")

// File is a parsed fixture file.
type File struct {
	Mocks []Mock `yaml:"mocks"`
}

// Mock declares one handler. Exactly one of URL, URLRegex and URLGlob must be
// set, and exactly one of Response and Sequence.
type Mock struct {
	// Name identifies the mock in errors.
	Name   string `yaml:"name"`
	Method string `yaml:"method"`

	URL      string `yaml:"url"`
	URLRegex string `yaml:"url_regex"`
	URLGlob  string `yaml:"url_glob"`

	Match Match `yaml:"match"`
	// Once makes the mock answer only the first request it matches.
	Once bool `yaml:"once"`
	// Delay holds the response back, e.g. "250ms".
	Delay Duration `yaml:"delay"`

	Response *Response  `yaml:"response"`
	Sequence []Response `yaml:"sequence"`
}

// Match holds extra conditions on the request.
type Match struct {
	JSON []JSONCondition `yaml:"json"`
}

// JSONCondition matches a gjson path of the request body.
type JSONCondition struct {
	Path  string `yaml:"path"`
	Value string `yaml:"value"`
	// Regex treats Value as a regular expression.
	Regex bool `yaml:"regex"`
}

// Response declares a response. JSON takes precedence over Body, and Set
// patches the resulting body with sjson, keyed by path.
type Response struct {
	Status     int               `yaml:"status"`
	Reason     string            `yaml:"reason"`
	RawHeaders string            `yaml:"raw_headers"`
	Headers    map[string]string `yaml:"headers"`
	Body       *string           `yaml:"body"`
	JSON       any               `yaml:"json"`
	Set        map[string]any    `yaml:"set"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Load parses a fixture file. Unknown fields are rejected, and every mock is
// checked so that errors surface here rather than on first use.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}

	if _, err := f.Handlers(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile parses the fixture file at path.
func LoadFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Handlers builds one handler per mock, in file order. Every call returns
// fresh handlers, so once and sequence state is not shared between calls.
func (f *File) Handlers() ([]xhrmock.Handler, error) {
	handlers := make([]xhrmock.Handler, 0, len(f.Mocks))
	for i, mock := range f.Mocks {
		h, err := mock.handler()
		if err != nil {
			return nil, fmt.Errorf("mock %d (%q): %w", i, mock.Name, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Register adds the handlers of f to m.
func (f *File) Register(m *xhrmock.XHRMock) error {
	handlers, err := f.Handlers()
	if err != nil {
		return err
	}
	for _, h := range handlers {
		m.Use(h)
	}
	return nil
}

func (m Mock) handler() (xhrmock.Handler, error) {
	if m.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalidFixture)
	}

	pattern, err := m.pattern()
	if err != nil {
		return nil, err
	}

	var h xhrmock.Handler
	switch {
	case m.Response != nil && len(m.Sequence) > 0:
		return nil, fmt.Errorf("%w: response and sequence are mutually exclusive", ErrInvalidFixture)
	case m.Response != nil:
		h, err = m.Response.handler()
		if err != nil {
			return nil, err
		}
	case len(m.Sequence) > 0:
		seq := make([]xhrmock.Handler, len(m.Sequence))
		for i, res := range m.Sequence {
			seq[i], err = res.handler()
			if err != nil {
				return nil, fmt.Errorf("sequence %d: %w", i, err)
			}
		}
		h = xhrmock.Sequence(seq...)
	default:
		return nil, fmt.Errorf("%w: missing response or sequence", ErrInvalidFixture)
	}

	if m.Delay > 0 {
		h = xhrmock.Delay(h, time.Duration(m.Delay))
	}
	if m.Once {
		h = xhrmock.Once(h)
	}
	if len(m.Match.JSON) > 0 {
		h, err = matchJSON(m.Match.JSON, h)
		if err != nil {
			return nil, err
		}
	}

	return xhrmock.Route(m.Method, pattern, h), nil
}

func (m Mock) pattern() (xhrmock.Pattern, error) {
	var patterns []xhrmock.Pattern
	if m.URL != "" {
		patterns = append(patterns, xhrmock.Exact(m.URL))
	}
	if m.URLGlob != "" {
		patterns = append(patterns, xhrmock.Glob(m.URLGlob))
	}
	if m.URLRegex != "" {
		re, err := regexp.Compile(m.URLRegex)
		if err != nil {
			return nil, fmt.Errorf("%w: url_regex: %w", ErrInvalidFixture, err)
		}
		patterns = append(patterns, re)
	}

	if len(patterns) != 1 {
		return nil, fmt.Errorf("%w: exactly one of url, url_regex and url_glob is required", ErrInvalidFixture)
	}
	return patterns[0], nil
}

func (r Response) handler() (xhrmock.Handler, error) {
	body, isJSON, err := r.body()
	if err != nil {
		return nil, err
	}

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}

	return xhrmock.HandlerFunc(func(ctx context.Context, req *xhrmock.Request, res *xhrmock.Response) (*xhrmock.Response, error) {
		res.SetStatus(status).SetReason(r.Reason)
		if r.RawHeaders != "" {
			for name, value := range xhrmock.ParseHeaders(r.RawHeaders).All() {
				res.SetHeader(name, value)
			}
		}
		res.SetHeaders(r.Headers)
		if isJSON && res.Header("content-type") == "" {
			res.SetHeader("content-type", "application/json")
		}
		if body != nil {
			res.SetBody(*body)
		}
		return res, nil
	}), nil
}

// body renders the response body once, when the fixture is loaded.
func (r Response) body() (body *string, isJSON bool, err error) {
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, false, fmt.Errorf("%w: json: %w", ErrInvalidFixture, err)
		}
		s := string(b)
		body, isJSON = &s, true
	case r.Body != nil:
		s := *r.Body
		body = &s
	}

	if len(r.Set) == 0 {
		return body, isJSON, nil
	}

	s := ""
	if body != nil {
		s = *body
	}
	for _, path := range slices.Sorted(maps.Keys(r.Set)) {
		s, err = sjson.Set(s, path, r.Set[path])
		if err != nil {
			return nil, false, fmt.Errorf("%w: set %q: %w", ErrInvalidFixture, path, err)
		}
	}
	return &s, true, nil
}

type jsonMatcher struct {
	path  string
	value string
	re    *regexp.Regexp
}

func (m jsonMatcher) match(body string) bool {
	result := gjson.Get(body, m.path)
	if !result.Exists() {
		return false
	}
	if m.re != nil {
		return m.re.MatchString(result.String())
	}
	return result.String() == m.value
}

// matchJSON wraps h so that it only sees requests whose JSON body satisfies
// every condition.
func matchJSON(conds []JSONCondition, h xhrmock.Handler) (xhrmock.Handler, error) {
	matchers := make([]jsonMatcher, len(conds))
	for i, cond := range conds {
		if cond.Path == "" {
			return nil, fmt.Errorf("%w: match.json %d: missing path", ErrInvalidFixture, i)
		}
		matchers[i] = jsonMatcher{path: cond.Path, value: cond.Value}
		if cond.Regex {
			re, err := regexp.Compile(cond.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: match.json %d: %w", ErrInvalidFixture, i, err)
			}
			matchers[i].re = re
		}
	}

	return xhrmock.HandlerFunc(func(ctx context.Context, req *xhrmock.Request, res *xhrmock.Response) (*xhrmock.Response, error) {
		body, ok := requestJSON(req.Body())
		if !ok {
			return nil, nil
		}
		for _, m := range matchers {
			if !m.match(body) {
				return nil, nil
			}
		}
		return h.Handle(ctx, req, res)
	}), nil
}

func requestJSON(body any) (string, bool) {
	var s string
	switch body := body.(type) {
	case nil:
		return "", false
	case string:
		s = body
	case []byte:
		s = string(body)
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return "", false
		}
		s = string(b)
	}
	return s, gjson.Valid(s)
}
