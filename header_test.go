package xhrmock

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestHeader(t *testing.T) {
	var h Header
	h.Set("Content-Type", "text/plain")
	h.Set("X-Powered-By", "SecretSauce")
	h.Set("content-type", "application/json")

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("x-powered-by"))
	assert.Equal(t, "content-type: application/json\r\nx-powered-by: SecretSauce\r\n", h.String())

	m := h.Map()
	m["x-powered-by"] = "changed"
	assert.Equal(t, "SecretSauce", h.Get("x-powered-by"))

	h.Del("Content-Type")
	assert.False(t, h.Has("content-type"))
	assert.Equal(t, "x-powered-by: SecretSauce\r\n", h.String())
	assert.Equal(t, 2, len(m))
}

func TestNewHeader(t *testing.T) {
	h := NewHeader(map[string]string{"B": "2", "a": "1", "C": "3"})
	assert.Equal(t, "a: 1\r\nb: 2\r\nc: 3\r\n", h.String())
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "empty",
			raw:  "",
			want: map[string]string{},
		},
		{
			name: "crlf",
			raw:  "Content-Type: application/json\r\nX-Powered-By: SecretSauce\r\n",
			want: map[string]string{
				"content-type": "application/json",
				"x-powered-by": "SecretSauce",
			},
		},
		{
			name: "colon in value",
			raw:  "location: https://example.com:8080/\n",
			want: map[string]string{"location": "https://example.com:8080/"},
		},
		{
			name: "skips malformed lines",
			raw:  "no colon\n: no name\nno-value:   \nx-ok:  yes \n",
			want: map[string]string{"x-ok": "yes"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, ParseHeaders(test.raw).Map())
		})
	}
}

func TestParseHeaders_RoundTrip(t *testing.T) {
	raw := "content-type: application/json\r\nx-powered-by: SecretSauce\r\n"
	assert.Equal(t, raw, ParseHeaders(raw).String())
}
