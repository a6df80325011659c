package xhrmock

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// sendOp is the state of one call to Send. Exactly one of the handler
// resolution, the timeout, Abort or a new Open settles it; whoever loses the
// race leaves the XHR alone.
type sendOp struct {
	settled atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	timer         *time.Timer
	timerCallback func(func() error)

	// delivering is set while the response events before Done are being
	// dispatched. Abort can still take over the request until then. Only the
	// event loop touches it.
	delivering bool
	aborted    bool
}

func noop() error { return nil }

// settle claims the terminal outcome of the operation. It reports false if
// the operation was already settled.
func (op *sendOp) settle() bool {
	return op.settled.CompareAndSwap(false, true)
}

// release cancels the handler context and gives back the event loop slot
// held by a timer that has not fired yet. It must only be called by the
// caller that settled op.
func (op *sendOp) release() {
	op.cancel()
	if op.timer != nil && op.timer.Stop() {
		op.timerCallback(noop)
	}
}

// invalidate discards op without any outcome events.
func (op *sendOp) invalidate() {
	if op.settle() {
		op.release()
	}
}

// current reports whether op is the operation in flight and still unsettled.
func (x *XHR) current(op *sendOp) bool {
	return x.op == op && !op.settled.Load()
}

// Send starts resolving the opened request. It dispatches loadstart before
// returning; every other event is dispatched later on the event loop. GET and
// HEAD requests are always sent without a body.
func (x *XHR) Send(body any) error {
	if x.state != Opened || x.sending {
		return fmt.Errorf("%w: send requires an opened request that was not sent", ErrInvalidState)
	}

	switch strings.ToUpper(x.req.Method()) {
	case "GET", "HEAD":
		body = nil
	}
	x.req.SetBody(body)
	x.req.seal()

	ctx, cancel := context.WithCancel(context.Background())
	op := &sendOp{ctx: ctx, cancel: cancel}
	x.op = op
	x.sending = true

	if x.timeout > 0 {
		op.timerCallback = x.loop.RegisterCallback()
		op.timer = time.AfterFunc(x.timeout, func() {
			op.timerCallback(func() error {
				x.handleTimeout(op)
				return nil
			})
		})
	}

	x.logger.Debug(
		"sending mocked request",
		"request_id", x.req.ID(),
		"method", x.req.Method(),
		"url", x.req.URL(),
		"has_body", body != nil,
		"timeout", x.timeout)

	x.Dispatch(&Event{Type: EventLoadStart})

	x.loop.Queue(func() error {
		x.transmit(op)
		return nil
	})
	return nil
}

// transmit replays the upload events, if there is a body, and then resolves
// the request on its own goroutine.
func (x *XHR) transmit(op *sendOp) {
	if !x.current(op) {
		return
	}

	req := x.req
	if body := req.Body(); body != nil && x.uploadObserved() {
		b, computable := bodyBytes(body)
		total := int64(len(b))
		events := []*Event{
			{Type: EventLoadStart, LengthComputable: computable, Total: total},
			{Type: EventProgress, LengthComputable: computable, Loaded: total / 2, Total: total},
			{Type: EventProgress, LengthComputable: computable, Loaded: total, Total: total},
			{Type: EventLoad, LengthComputable: computable, Loaded: total, Total: total},
			{Type: EventLoadEnd, LengthComputable: computable, Loaded: total, Total: total},
		}
		for _, ev := range events {
			x.upload.Dispatch(ev)
			if !x.current(op) {
				return
			}
		}
	}

	registry := x.registry
	callback := x.loop.RegisterCallback()
	go func() {
		res, err := registry.Resolve(op.ctx, req, NewResponse())
		callback(func() error {
			x.handleResolved(op, res, err)
			return nil
		})
	}()
}

// uploadObserved reports whether any upload event has a listener.
func (x *XHR) uploadObserved() bool {
	for _, typ := range []EventType{EventLoadStart, EventProgress, EventLoad, EventLoadEnd} {
		if x.upload.HasListeners(typ) {
			return true
		}
	}
	return false
}

func (x *XHR) handleResolved(op *sendOp, res *Response, err error) {
	if !op.settle() {
		x.logger.Debug("discarding handler result of a settled request")
		return
	}
	op.release()

	if err != nil {
		x.fail(op, err)
		return
	}
	x.complete(op, res)
}

func (x *XHR) complete(op *sendOp, res *Response) {
	res.seal()
	x.sending = false

	b, computable := bodyBytes(res.Body())
	total := int64(len(b))

	x.logger.Debug(
		"mocked request done",
		"request_id", x.req.ID(),
		"status", res.Status())

	steps := []func(){
		func() { x.setState(HeadersReceived) },
		func() { x.setState(Loading) },
		func() {
			x.Dispatch(&Event{Type: EventProgress, LengthComputable: computable, Loaded: total / 2, Total: total})
		},
		func() {
			x.Dispatch(&Event{Type: EventProgress, LengthComputable: computable, Loaded: total, Total: total})
		},
		func() {
			op.delivering = false
			x.res = res
			x.setState(Done)
		},
		func() {
			x.Dispatch(&Event{Type: EventLoad, LengthComputable: computable, Loaded: total, Total: total})
		},
		func() {
			x.Dispatch(&Event{Type: EventLoadEnd, LengthComputable: computable, Loaded: total, Total: total})
		},
	}
	op.delivering = true
	x.run(op, steps)
}

func (x *XHR) fail(op *sendOp, err error) {
	x.sending = false
	x.errored = true
	x.err = err

	x.registry.notifyError(ErrorEvent{Request: x.req, Err: err})

	steps := []func(){
		func() { x.setState(Done) },
		func() { x.Dispatch(&Event{Type: EventError, Err: err}) },
		func() { x.Dispatch(&Event{Type: EventLoadEnd}) },
	}
	x.run(op, steps)
}

func (x *XHR) handleTimeout(op *sendOp) {
	if !op.settle() {
		return
	}
	op.release()

	x.sending = false
	x.timedOut = true

	x.logger.Debug(
		"mocked request timed out",
		"request_id", x.req.ID(),
		"timeout", x.timeout)

	steps := []func(){
		func() { x.setState(Done) },
		func() { x.Dispatch(&Event{Type: EventTimeout}) },
		func() { x.Dispatch(&Event{Type: EventLoadEnd}) },
	}
	x.run(op, steps)
}

// run runs the dispatch steps of a settled op in order, stopping as soon as a
// listener opens a new request or aborts the response being delivered.
func (x *XHR) run(op *sendOp, steps []func()) {
	aborted := op.aborted
	for _, step := range steps {
		if x.op != op || op.aborted != aborted {
			return
		}
		step()
	}
}
