// Package hooks defines the callbacks collaborators attach to the reasoning
// graph. Hooks let external subsystems (context engineering, critique,
// long-term memory, observability) observe and rewrite dispatch state without
// the core knowing about them. Dispatch hooks must preserve the append-only
// invariant of the message list; the graph verifies prefix preservation and
// rejects rewrites that drop history.
package hooks

import (
	"context"

	"github.com/quadracode/quadracode/runtime/chat"
)

type (
	// DispatchHook rewrites the working message list before or after the
	// driver/tools loop. The returned list must keep the input list as a
	// prefix; hooks may only append.
	DispatchHook func(ctx context.Context, threadID string, turns []chat.Turn) ([]chat.Turn, error)

	// ToolResponseHook rewrites tool output before it is appended as a
	// tool turn. The returned string replaces the content.
	ToolResponseHook func(ctx context.Context, call chat.ToolCall, content string) string

	// MetricHook receives the runtime's counter updates so collaborators
	// can forward them to external sinks.
	MetricHook func(name string, value float64, tags ...string)

	// Set bundles the optional callbacks a collaborator supplies. Nil
	// fields are skipped.
	Set struct {
		PreDispatch   DispatchHook
		PostDispatch  DispatchHook
		ToolResponse  ToolResponseHook
		MetricPublish MetricHook
	}
)

// Pre applies the pre-dispatch hook when set.
func (s Set) Pre(ctx context.Context, threadID string, turns []chat.Turn) ([]chat.Turn, error) {
	if s.PreDispatch == nil {
		return turns, nil
	}
	return s.PreDispatch(ctx, threadID, turns)
}

// Post applies the post-dispatch hook when set.
func (s Set) Post(ctx context.Context, threadID string, turns []chat.Turn) ([]chat.Turn, error) {
	if s.PostDispatch == nil {
		return turns, nil
	}
	return s.PostDispatch(ctx, threadID, turns)
}

// Tool applies the tool-response hook when set.
func (s Set) Tool(ctx context.Context, call chat.ToolCall, content string) string {
	if s.ToolResponse == nil {
		return content
	}
	return s.ToolResponse(ctx, call, content)
}

// Metric forwards a counter update when the metric hook is set.
func (s Set) Metric(name string, value float64, tags ...string) {
	if s.MetricPublish != nil {
		s.MetricPublish(name, value, tags...)
	}
}
