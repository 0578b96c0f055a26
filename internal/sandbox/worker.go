package sandbox

import (
	"errors"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serdar/apiflow/internal/core/model"
	"github.com/serdar/apiflow/internal/core/observe"
)

// worker is the isolated context: a goroutine owning a fresh goja VM,
// reachable only through its message channels. It serves one init and one
// eval, then exits. Workers are never pooled or reused.
type worker struct {
	vm     *goja.Runtime
	in     chan Message
	out    chan Message
	killed chan struct{}
	once   sync.Once
	log    *zap.Logger
}

func newWorker(log *zap.Logger) *worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &worker{
		vm:     goja.New(),
		in:     make(chan Message, 16),
		out:    make(chan Message, 64),
		killed: make(chan struct{}),
		log:    log,
	}
}

// run drives the worker's lifecycle. The out channel closes when the worker
// is done, which the host uses as the teardown signal.
func (w *worker) run() {
	defer close(w.out)

	msg, ok := w.recv()
	if !ok || msg.Type != MsgInit || msg.Init == nil {
		return
	}
	init := msg.Init

	// Clone both ways: the sandbox must never alias host-owned maps.
	m := observe.NewRequestModel(
		init.Request.Clone(),
		init.State.Clone(),
		func(ev model.MutationEvent) {
			w.emit(Message{Type: MsgMutation, Mutation: &ev})
		},
		w.log,
	)
	w.emit(Message{Type: MsgInitSuccess})

	msg, ok = w.recv()
	if !ok || msg.Type != MsgEval || msg.Eval == nil {
		return
	}

	a := newAPI(w.vm, m, w.hostHTTP)
	a.response = init.Response
	a.register()

	_, err := w.vm.RunString(msg.Eval.Source)
	if err != nil {
		message, stack := describeScriptError(err)
		w.emit(Message{Type: MsgEvalError, Error: &ErrorPayload{
			Message: message,
			Stack:   stack,
			Logs:    a.logs,
		}})
		return
	}

	w.emit(Message{Type: MsgEvalSuccess, Result: &ResultPayload{
		Request: m.Snapshot(),
		State:   m.State(),
		Logs:    a.logs,
	}})
}

func (w *worker) recv() (Message, bool) {
	select {
	case msg, ok := <-w.in:
		return msg, ok
	case <-w.killed:
		return Message{}, false
	}
}

func (w *worker) emit(msg Message) {
	select {
	case w.out <- msg:
	case <-w.killed:
	}
}

// hostHTTP sends an http-request envelope and blocks until the host relays
// the matching reply. Script statements after the call therefore only run
// once the response is available.
func (w *worker) hostHTTP(opts HTTPCallOptions) (*HTTPCallResponse, error) {
	id := uuid.New().String()
	select {
	case w.out <- Message{Type: MsgHTTPRequest, HTTPRequest: &HTTPRequestPayload{
		RequestID: id,
		Options:   opts,
	}}:
	case <-w.killed:
		return nil, errors.New("sandbox context destroyed")
	}

	for {
		select {
		case msg, ok := <-w.in:
			if !ok {
				return nil, errors.New("sandbox channel closed")
			}
			if msg.HTTPReply == nil || msg.HTTPReply.RequestID != id {
				continue
			}
			if msg.Type == MsgHTTPError {
				return nil, errors.New(msg.HTTPReply.Message)
			}
			return msg.HTTPReply.Response, nil
		case <-w.killed:
			return nil, errors.New("sandbox context destroyed")
		}
	}
}

// interrupt aborts a running script. Safe to call from the host goroutine.
func (w *worker) interrupt(reason string) {
	w.vm.Interrupt(reason)
}

// kill tears the context down; pending sends and receives unblock.
func (w *worker) kill() {
	w.once.Do(func() { close(w.killed) })
}

func describeScriptError(err error) (message, stack string) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Error(), ex.String()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return interrupted.Error(), ""
	}
	return err.Error(), ""
}
