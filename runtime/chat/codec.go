package chat

import "encoding/json"

// Encode converts turns into the JSON-generic representation carried inside
// envelope payloads under the "messages" key. Empty optional fields are
// omitted so the wire form stays compact.
func Encode(turns []Turn) []any {
	out := make([]any, 0, len(turns))
	for _, t := range turns {
		m := map[string]any{
			"role":    t.Role,
			"content": t.Content,
		}
		if t.Name != "" {
			m["name"] = t.Name
		}
		if t.ToolCallID != "" {
			m["tool_call_id"] = t.ToolCallID
		}
		if len(t.ToolCalls) > 0 {
			calls := make([]any, 0, len(t.ToolCalls))
			for _, c := range t.ToolCalls {
				cm := map[string]any{
					"id":   c.ID,
					"name": c.Name,
				}
				if len(c.Args) > 0 {
					cm["args"] = json.RawMessage(c.Args)
				}
				calls = append(calls, cm)
			}
			m["tool_calls"] = calls
		}
		out = append(out, m)
	}
	return out
}

// Decode converts a JSON-decoded payload value back into turns. The decoder
// is tolerant: a value that is not a list yields nil, and list items that are
// not objects are skipped, so a malformed history never aborts dispatch.
func Decode(v any) []Turn {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := Turn{
			Role:       stringAt(m, "role"),
			Content:    stringAt(m, "content"),
			Name:       stringAt(m, "name"),
			ToolCallID: stringAt(m, "tool_call_id"),
		}
		if calls, ok := m["tool_calls"].([]any); ok {
			for _, call := range calls {
				cm, ok := call.(map[string]any)
				if !ok {
					continue
				}
				tc := ToolCall{
					ID:   stringAt(cm, "id"),
					Name: stringAt(cm, "name"),
				}
				if args, ok := cm["args"]; ok && args != nil {
					tc.Args = marshalArgs(args)
				}
				t.ToolCalls = append(t.ToolCalls, tc)
			}
		}
		turns = append(turns, t)
	}
	return turns
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// marshalArgs normalizes a decoded argument value back into raw JSON. Maps
// marshal with sorted keys, so the result is deterministic.
func marshalArgs(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return append(json.RawMessage(nil), raw...)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
