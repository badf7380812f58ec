package model

import (
	"context"
	"sync"

	"github.com/quadracode/quadracode/runtime/chat"
)

// Stub is a deterministic scripted model client. Each Complete call consumes
// the next scripted response; once the script is exhausted the stub keeps
// returning the final response. A nil or empty script yields empty assistant
// turns. Stub is used by tests and offline runs and is safe for concurrent
// use.
type Stub struct {
	mu       sync.Mutex
	script   []Response
	err      error
	calls    int
	requests []Request
}

// NewStub builds a stub that replays the given responses in order.
func NewStub(script ...Response) *Stub {
	return &Stub{script: script}
}

// NewStubError builds a stub whose Complete calls always fail with err.
func NewStubError(err error) *Stub {
	return &Stub{err: err}
}

// Complete returns the next scripted response and records the request.
func (s *Stub) Complete(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.calls++
	if s.err != nil {
		return Response{}, s.err
	}
	if len(s.script) == 0 {
		return Response{}, nil
	}
	i := s.calls - 1
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return s.script[i], nil
}

// Calls reports how many times Complete has been invoked.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns the recorded requests in call order.
func (s *Stub) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// TextResponse builds a scripted final response with the given content.
func TextResponse(content string) Response {
	return Response{Content: content, StopReason: "end_turn"}
}

// ToolResponse builds a scripted response requesting the given tool calls.
func ToolResponse(content string, calls ...chat.ToolCall) Response {
	return Response{Content: content, ToolCalls: calls, StopReason: "tool_use"}
}
