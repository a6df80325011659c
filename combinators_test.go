package xhrmock

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestOnce(t *testing.T) {
	h := Once(MockSpec{Body: "once"})

	res, err := h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
	assert.NoError(t, err)
	assert.NotZero(t, res)

	res, err = h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
	assert.NoError(t, err)
	assert.Zero(t, res)
}

func TestOnce_FallsThrough(t *testing.T) {
	m, loop := newTestMock(t)
	m.Get(Exact("/"), Once(MockSpec{Body: "first"}))
	m.Get(Exact("/"), MockSpec{Body: "rest"})

	var texts []string
	for range 3 {
		x := m.NewXHR()
		run(t, loop, func() error {
			assert.NoError(t, x.Open("GET", "/"))
			return x.Send(nil)
		})
		text, err := x.ResponseText()
		assert.NoError(t, err)
		texts = append(texts, text)
	}

	assert.Equal(t, []string{"first", "rest", "rest"}, texts)
}

func TestSequence(t *testing.T) {
	errBoom := errors.New("boom")
	h := Sequence(
		MockSpec{Status: 503},
		HandlerFunc(func(ctx context.Context, req *Request, res *Response) (*Response, error) {
			return nil, errBoom
		}),
		MockSpec{Status: 200},
	)

	res, err := h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
	assert.NoError(t, err)
	assert.Equal(t, 503, res.Status())

	_, err = h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
	assert.IsError(t, err, errBoom)

	res, err = h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
	assert.NoError(t, err)
	assert.Equal(t, 200, res.Status())

	res, err = h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
	assert.NoError(t, err)
	assert.Zero(t, res)
}

func TestDelay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := Delay(MockSpec{Body: "late"}, time.Second)

		start := time.Now()
		res, err := h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
		assert.NoError(t, err)
		assert.Equal(t, any("late"), res.Body())
		assert.Equal(t, time.Second, time.Since(start))
	})
}

func TestDelay_NoMatchIsImmediate(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := Delay(Route("POST", Exact("/"), MockSpec{}), time.Second)

		start := time.Now()
		res, err := h.Handle(t.Context(), newRequest("GET", "/"), NewResponse())
		assert.NoError(t, err)
		assert.Zero(t, res)
		assert.Equal(t, time.Duration(0), time.Since(start))
	})
}

func TestDelay_Cancelled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := Delay(MockSpec{}, time.Second)

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := h.Handle(ctx, newRequest("GET", "/"), NewResponse())
		assert.IsError(t, err, context.DeadlineExceeded)
		assert.Equal(t, 10*time.Millisecond, time.Since(start))
	})
}

func TestCombinators_Nil(t *testing.T) {
	assert.Panics(t, func() { Once(nil) })
	assert.Panics(t, func() { Delay(nil, time.Second) })
	assert.Panics(t, func() { Sequence(MockSpec{}, nil) })
}
