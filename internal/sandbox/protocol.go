// Package sandbox executes user-authored pre/post-request scripts in an
// isolated context. The host and the context share no memory; they exchange
// typed messages over ordered channels. One context serves exactly one
// evaluation and is destroyed on every terminal transition.
package sandbox

import (
	"github.com/serdar/apiflow/internal/core/model"
)

// MessageType tags a protocol envelope.
type MessageType string

const (
	// host → sandbox
	MsgInit         MessageType = "init"
	MsgEval         MessageType = "eval"
	MsgHTTPResponse MessageType = "http-response"
	MsgHTTPError    MessageType = "http-error"

	// sandbox → host
	MsgInitSuccess MessageType = "init-success"
	MsgMutation    MessageType = "mutation" // concrete tag is <region>-set / <region>-delete
	MsgHTTPRequest MessageType = "http-request"
	MsgEvalSuccess MessageType = "eval-success"
	MsgEvalError   MessageType = "eval-error"
)

// Message is the envelope exchanged between host and sandbox. Exactly one
// payload field matching Type is set.
type Message struct {
	Type MessageType

	Init        *InitPayload
	Eval        *EvalPayload
	Mutation    *model.MutationEvent
	HTTPRequest *HTTPRequestPayload
	HTTPReply   *HTTPReplyPayload
	Result      *ResultPayload
	Error       *ErrorPayload
}

// Tag returns the wire tag, expanding mutation messages to their
// region-qualified form (e.g. "headers-set").
func (m Message) Tag() string {
	if m.Type == MsgMutation && m.Mutation != nil {
		return m.Mutation.Type()
	}
	return string(m.Type)
}

// InitPayload seeds the request model and shared-state containers. Response
// is only present for post-request scripts and is exposed read-only.
type InitPayload struct {
	Request  model.RequestSnapshot
	State    model.SharedState
	Response *HTTPCallResponse
}

// EvalPayload submits script source.
type EvalPayload struct {
	Source string
}

// HTTPCallOptions is the request a script asks the host to perform on its
// behalf; the sandbox itself has no network access.
type HTTPCallOptions struct {
	URL       string
	Method    string
	Headers   map[string]string
	Body      string
	TimeoutMs int
}

// HTTPRequestPayload correlates a host-mediated call with its reply.
type HTTPRequestPayload struct {
	RequestID string
	Options   HTTPCallOptions
}

// HTTPCallResponse is the host's answer to a mediated call.
type HTTPCallResponse struct {
	StatusCode  int
	Status      string
	Headers     map[string]string
	Body        string
	ContentType string
}

// HTTPReplyPayload resolves a pending http-request, with either a response
// or an error message.
type HTTPReplyPayload struct {
	RequestID string
	Response  *HTTPCallResponse
	Message   string
}

// ResultPayload is the final snapshot delivered on eval-success.
type ResultPayload struct {
	Request model.RequestSnapshot
	State   model.SharedState
	Logs    []string
}

// ErrorPayload reports an uncaught script failure.
type ErrorPayload struct {
	Message string
	Stack   string
	Logs    []string
}
