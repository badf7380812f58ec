// Package chat defines the conversation turn model shared by the runtime
// loop, the reasoning graph and the model adapters. A thread's history is an
// ordered list of turns; the list is strictly additive and the graph appends
// to it, never rewrites it.
package chat

import "encoding/json"

// Turn roles. Assistant turns may carry structured tool calls; tool turns
// carry the answer to exactly one call.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type (
	// Turn is a single conversation entry.
	Turn struct {
		// Role is one of the Role constants.
		Role string `json:"role"`
		// Content is the textual body of the turn. May be empty for
		// assistant turns that only request tool calls.
		Content string `json:"content"`
		// Name is the tool name on tool turns.
		Name string `json:"name,omitempty"`
		// ToolCallID links a tool turn to the assistant call it answers.
		ToolCallID string `json:"tool_call_id,omitempty"`
		// ToolCalls holds the structured calls requested by an assistant
		// turn, in invocation order.
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	}

	// ToolCall is one structured tool request emitted by the model.
	ToolCall struct {
		// ID identifies the call so its result can be correlated.
		ID string `json:"id"`
		// Name is the registered tool name.
		Name string `json:"name"`
		// Args is the JSON-encoded argument object.
		Args json.RawMessage `json:"args,omitempty"`
	}
)

// User builds a user turn with the given content.
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// Assistant builds an assistant turn with the given content.
func Assistant(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// System builds a system turn with the given content.
func System(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// Tool builds a tool turn answering the call identified by callID.
func Tool(name, callID, content string) Turn {
	return Turn{Role: RoleTool, Name: name, ToolCallID: callID, Content: content}
}

// LastContent returns the content of the final turn, or the empty string for
// an empty list.
func LastContent(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].Content
}

// Equal reports whether two turns are identical, comparing tool call
// arguments byte-wise. Arguments produced by Encode/Decode are normalized
// JSON, so byte comparison is stable within the runtime.
func (t Turn) Equal(o Turn) bool {
	if t.Role != o.Role || t.Content != o.Content || t.Name != o.Name || t.ToolCallID != o.ToolCallID {
		return false
	}
	if len(t.ToolCalls) != len(o.ToolCalls) {
		return false
	}
	for i := range t.ToolCalls {
		if !t.ToolCalls[i].Equal(o.ToolCalls[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether two tool calls are identical.
func (c ToolCall) Equal(o ToolCall) bool {
	return c.ID == o.ID && c.Name == o.Name && string(c.Args) == string(o.Args)
}

// EqualTurns reports whether two turn lists are element-wise equal.
func EqualTurns(a, b []Turn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the turn list so callers cannot mutate shared
// history.
func Clone(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		if len(t.ToolCalls) > 0 {
			calls := make([]ToolCall, len(t.ToolCalls))
			for j, c := range t.ToolCalls {
				calls[j] = c
				if c.Args != nil {
					calls[j].Args = append(json.RawMessage(nil), c.Args...)
				}
			}
			out[i].ToolCalls = calls
		}
	}
	return out
}

// HasPrefix reports whether prefix is an element-wise prefix of turns. The
// graph uses it to verify that dispatch hooks preserved the append-only
// invariant.
func HasPrefix(turns, prefix []Turn) bool {
	if len(prefix) > len(turns) {
		return false
	}
	for i := range prefix {
		if !turns[i].Equal(prefix[i]) {
			return false
		}
	}
	return true
}
