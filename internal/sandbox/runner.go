package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/serdar/apiflow/internal/core/model"
	"github.com/serdar/apiflow/internal/engine"
)

// DefaultPostScriptTimeout is the fixed wall-clock budget for post-request
// scripts. Pre-request scripts use a caller-supplied budget.
const DefaultPostScriptTimeout = 10 * time.Second

// TimeoutMessage is the fixed error reported when an evaluation exceeds its
// budget, regardless of what the script would have done next.
const TimeoutMessage = "script execution timed out"

// defaultHostCallTimeout bounds host-mediated calls that specify none.
const defaultHostCallTimeout = 30 * time.Second

// RunOptions configures one evaluation.
type RunOptions struct {
	// Timeout is the wall-clock budget; zero means DefaultPostScriptTimeout.
	Timeout time.Duration
	// OnMutation receives every accepted mutation, in script write order,
	// while the script is still running. May be nil.
	OnMutation func(model.MutationEvent)
	// Response, when set, is exposed to the script read-only as af.response.
	// Used for post-request scripts.
	Response *HTTPCallResponse
}

// EvalResult is the terminal outcome of one evaluation. On success the
// caller owns Request and State; the sandboxed copies are gone.
type EvalResult struct {
	Success  bool
	TimedOut bool
	Error    string
	Stack    string
	Request  model.RequestSnapshot
	State    model.SharedState
	Logs     []string
}

// Runner spawns one isolated context per evaluation, enforces the wall-clock
// budget, relays mutation events and services host-mediated HTTP calls.
type Runner struct {
	engine *engine.Engine
	log    *zap.Logger
}

// NewRunner creates a runner backed by eng for host-mediated calls.
func NewRunner(eng *engine.Engine, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{engine: eng, log: log}
}

// Run seeds a fresh isolated context with the request snapshot and shared
// state, evaluates the script, and blocks until success, error or timeout.
// Whichever settles first wins; a terminal message that arrives after the
// budget has elapsed is ignored and the fixed timeout failure is reported.
func (r *Runner) Run(ctx context.Context, snap model.RequestSnapshot, state model.SharedState, script string, opts RunOptions) (*EvalResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultPostScriptTimeout
	}

	// Host-mediated calls inherit this context so an expired budget or caller
	// cancellation aborts any in-flight engine call too.
	evalCtx, cancelEval := context.WithCancel(ctx)
	defer cancelEval()

	w := newWorker(r.log)
	go w.run()

	teardown := func() {
		w.kill()
		// Drain so a blocked emit can never leak the worker goroutine.
		go func() {
			for range w.out {
			}
		}()
	}

	w.in <- Message{Type: MsgInit, Init: &InitPayload{Request: snap, State: state, Response: opts.Response}}
	msg, ok := <-w.out
	if !ok || msg.Type != MsgInitSuccess {
		teardown()
		return nil, fmt.Errorf("sandbox init failed")
	}

	w.in <- Message{Type: MsgEval, Eval: &EvalPayload{Source: script}}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// expired reports whether the budget ran out while the loop was busy, so
	// a terminal message produced after the deadline cannot settle as success.
	expired := func() bool {
		select {
		case <-timer.C:
			return true
		default:
			return false
		}
	}
	timeoutResult := &EvalResult{Success: false, TimedOut: true, Error: TimeoutMessage}

	for {
		select {
		case msg, ok := <-w.out:
			if !ok {
				return nil, fmt.Errorf("sandbox context exited unexpectedly")
			}
			switch msg.Type {
			case MsgMutation:
				if opts.OnMutation != nil && msg.Mutation != nil {
					opts.OnMutation(*msg.Mutation)
				}
			case MsgHTTPRequest:
				// Serve in a goroutine so the budget timer stays observable
				// while the call is in flight. The script is blocked on the
				// reply, so mutation relay order is preserved.
				req := msg.HTTPRequest
				go func() {
					reply := r.serveHostCall(evalCtx, req)
					select {
					case w.in <- reply:
					case <-w.killed:
					}
				}()
			case MsgEvalSuccess:
				teardown()
				if expired() {
					return timeoutResult, nil
				}
				return &EvalResult{
					Success: true,
					Request: msg.Result.Request,
					State:   msg.Result.State,
					Logs:    msg.Result.Logs,
				}, nil
			case MsgEvalError:
				teardown()
				if expired() {
					return timeoutResult, nil
				}
				return &EvalResult{
					Success: false,
					Error:   msg.Error.Message,
					Stack:   msg.Error.Stack,
					Logs:    msg.Error.Logs,
				}, nil
			}
		case <-timer.C:
			w.interrupt(TimeoutMessage)
			teardown()
			return timeoutResult, nil
		case <-ctx.Done():
			w.interrupt("evaluation cancelled")
			teardown()
			return nil, ctx.Err()
		}
	}
}

// serveHostCall runs one script-initiated HTTP request on the host engine
// and packages the outcome as a protocol reply.
func (r *Runner) serveHostCall(ctx context.Context, req *HTTPRequestPayload) Message {
	callTimeout := defaultHostCallTimeout
	if req.Options.TimeoutMs > 0 {
		callTimeout = time.Duration(req.Options.TimeoutMs) * time.Millisecond
	}

	headers := make(map[string]*string, len(req.Options.Headers))
	for k, v := range req.Options.Headers {
		value := v
		headers[k] = &value
	}

	opts := engine.Options{
		URL:            req.Options.URL,
		Method:         req.Options.Method,
		Headers:        headers,
		Timeout:        callTimeout,
		FollowRedirect: true,
	}
	if req.Options.Body != "" {
		opts.Body = engine.StringBody(req.Options.Body)
	}
	if err := engine.ValidateOptions(opts); err != nil {
		return Message{Type: MsgHTTPError, HTTPReply: &HTTPReplyPayload{
			RequestID: req.RequestID,
			Message:   err.Error(),
		}}
	}

	var desc *engine.ResponseDescriptor
	var callErr error
	call := r.engine.Execute(ctx, opts, engine.Callbacks{
		OnResponseEnd: func(d *engine.ResponseDescriptor) { desc = d },
		OnError:       func(err error) { callErr = err },
	})
	<-call.Done()

	if callErr != nil || desc == nil {
		message := "request failed"
		if callErr != nil {
			message = callErr.Error()
		}
		r.log.Debug("host-mediated request failed",
			zap.String("url", req.Options.URL),
			zap.String("error", message))
		return Message{Type: MsgHTTPError, HTTPReply: &HTTPReplyPayload{
			RequestID: req.RequestID,
			Message:   message,
		}}
	}

	return Message{Type: MsgHTTPResponse, HTTPReply: &HTTPReplyPayload{
		RequestID: req.RequestID,
		Response: &HTTPCallResponse{
			StatusCode:  desc.StatusCode,
			Status:      desc.Status,
			Headers:     desc.Headers,
			Body:        string(desc.Body),
			ContentType: desc.ContentType,
		},
	}}
}
