package fixture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/neilotoole/slogt"
	"libdb.so/go-xhrmock"
	"libdb.so/go-xhrmock/eventloop"
)

const widgetsFixture = `
mocks:
  - name: create sprocket
    method: POST
    url_glob: "*/widgets"
    match:
      json:
        - path: name
          value: sprocket
    response:
      status: 201
      reason: Created
      json: {id: 1, name: sprocket}
      set:
        owner.id: 7

  - name: create anything else
    method: POST
    url_regex: '/widgets$'
    match:
      json:
        - path: name
          value: '^g'
          regex: true
    once: true
    response:
      status: 201
      raw_headers: "X-Powered-By: SecretSauce\r\nCache-Control: no-store\r\n"
      headers:
        Location: /widgets/2
      body: created

  - name: flaky health check
    method: GET
    url: https://example.com/health
    sequence:
      - status: 503
      - status: 200
        body: ok
`

type result struct {
	status int
	text   string
	err    error
}

func send(t *testing.T, m *xhrmock.XHRMock, method, url string, body any) (*xhrmock.XHR, result) {
	t.Helper()

	x := m.NewXHR()
	err := m.Loop().Start(t.Context(), func() error {
		if err := x.Open(method, url); err != nil {
			return err
		}
		return x.Send(body)
	})
	assert.NoError(t, err)

	text, err := x.ResponseText()
	assert.NoError(t, err)
	return x, result{status: x.Status(), text: text, err: x.Err()}
}

func newMock(t *testing.T, fixture string) *xhrmock.XHRMock {
	f, err := Load(strings.NewReader(fixture))
	assert.NoError(t, err)

	m := xhrmock.New(eventloop.New(), &xhrmock.Options{Logger: slogt.New(t)})
	m.Error(func(xhrmock.ErrorEvent) {})
	assert.NoError(t, f.Register(m))
	return m
}

func TestFixture_JSONMatch(t *testing.T) {
	m := newMock(t, widgetsFixture)

	x, res := send(t, m, "POST", "https://example.com/widgets", map[string]string{"name": "sprocket"})
	assert.Equal(t, 201, res.status)
	assert.Equal(t, "Created", x.StatusText())
	assert.Equal(t, int64(1), x.ResponseJSON("id").Int())
	assert.Equal(t, int64(7), x.ResponseJSON("owner.id").Int())

	contentType, _ := x.GetResponseHeader("content-type")
	assert.Equal(t, "application/json", contentType)
}

func TestFixture_RegexMatchOnce(t *testing.T) {
	m := newMock(t, widgetsFixture)

	x, res := send(t, m, "POST", "/widgets", `{"name":"gear"}`)
	assert.Equal(t, 201, res.status)
	assert.Equal(t, "created", res.text)
	assert.Equal(t,
		"x-powered-by: SecretSauce\r\ncache-control: no-store\r\nlocation: /widgets/2\r\n",
		x.GetAllResponseHeaders())

	_, res = send(t, m, "POST", "/widgets", `{"name":"gear"}`)
	assert.IsError(t, res.err, xhrmock.ErrNoHandler)

	_, res = send(t, m, "POST", "/widgets", `not json`)
	assert.IsError(t, res.err, xhrmock.ErrNoHandler)
}

func TestFixture_Sequence(t *testing.T) {
	m := newMock(t, widgetsFixture)

	var statuses []int
	for range 3 {
		_, res := send(t, m, "GET", "https://example.com/health", nil)
		statuses = append(statuses, res.status)
	}
	assert.Equal(t, []int{503, 200, 0}, statuses)
}

func TestFixture_Delay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		m := newMock(t, `
mocks:
  - method: GET
    url: /slow
    delay: 250ms
    response:
      body: finally
`)

		start := time.Now()
		_, res := send(t, m, "GET", "/slow", nil)
		assert.Equal(t, "finally", res.text)
		assert.Equal(t, 250*time.Millisecond, time.Since(start))
	})
}

func TestFixture_HandlersAreFresh(t *testing.T) {
	f, err := Load(strings.NewReader(widgetsFixture))
	assert.NoError(t, err)

	for range 2 {
		m := xhrmock.New(eventloop.New(), &xhrmock.Options{Logger: slogt.New(t)})
		assert.NoError(t, f.Register(m))

		_, res := send(t, m, "GET", "https://example.com/health", nil)
		assert.Equal(t, 503, res.status)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		errIs   error
	}{
		{
			name:    "unknown field",
			fixture: "mocks:\n  - method: GET\n    uri: /\n    response: {}\n",
		},
		{
			name:    "missing method",
			fixture: "mocks:\n  - url: /\n    response: {}\n",
			errIs:   ErrInvalidFixture,
		},
		{
			name:    "two url patterns",
			fixture: "mocks:\n  - method: GET\n    url: /\n    url_glob: '*'\n    response: {}\n",
			errIs:   ErrInvalidFixture,
		},
		{
			name:    "no url pattern",
			fixture: "mocks:\n  - method: GET\n    response: {}\n",
			errIs:   ErrInvalidFixture,
		},
		{
			name:    "bad regex",
			fixture: "mocks:\n  - method: GET\n    url_regex: '('\n    response: {}\n",
			errIs:   ErrInvalidFixture,
		},
		{
			name:    "no response",
			fixture: "mocks:\n  - method: GET\n    url: /\n",
			errIs:   ErrInvalidFixture,
		},
		{
			name:    "response and sequence",
			fixture: "mocks:\n  - method: GET\n    url: /\n    response: {}\n    sequence: [{}]\n",
			errIs:   ErrInvalidFixture,
		},
		{
			name:    "bad delay",
			fixture: "mocks:\n  - method: GET\n    url: /\n    delay: soon\n    response: {}\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(test.fixture))
			assert.Error(t, err)
			if test.errIs != nil {
				assert.IsError(t, err, test.errIs)
			}
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	f, err := Load(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(f.Mocks))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mocks.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(widgetsFixture), 0o644))

	f, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(f.Mocks))
	assert.Equal(t, "flaky health check", f.Mocks[2].Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
