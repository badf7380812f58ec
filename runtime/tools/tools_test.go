package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "Echoes the given text back.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
		Invoke: func(_ context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			return in.Text, nil
		},
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	require.Equal(t, 1, r.Len())

	out, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	require.Error(t, r.Register(echoTool()))

	require.Error(t, r.Register(Tool{Invoke: echoTool().Invoke}), "empty name")
	require.Error(t, r.Register(Tool{Name: "broken"}), "nil invoke")

	err := r.Register(Tool{
		Name:        "bad-schema",
		InputSchema: map[string]any{"type": 42},
		Invoke:      echoTool().Invoke,
	})
	require.Error(t, err)
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestInvokeValidatesArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	_, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":42}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid arguments for echo")

	_, err = r.Invoke(context.Background(), "echo", nil)
	require.Error(t, err, "missing required property")
}

func TestInvokeToolErrorPassesThrough(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Name: "flaky",
		Invoke: func(context.Context, json.RawMessage) (string, error) {
			return "", fmt.Errorf("upstream exploded")
		},
	}))
	_, err := r.Invoke(context.Background(), "flaky", nil)
	require.EqualError(t, err, "upstream exploded")
}

func TestDefinitionsSortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{Name: "zeta", Invoke: echoTool().Invoke}))
	require.NoError(t, r.Register(echoTool()))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	require.Equal(t, "echo", defs[0].Name)
	require.Equal(t, "zeta", defs[1].Name)
	require.Equal(t, "Echoes the given text back.", defs[0].Description)
}
