package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/model"
)

type stubChatClient struct {
	lastParams sdk.ChatCompletionNewParams
	resp       *sdk.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, params sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	s.lastParams = params
	return s.resp, s.err
}

func textCompletion(content, finish string) *sdk.ChatCompletion {
	return &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{
			{
				Message:      sdk.ChatCompletionMessage{Content: content},
				FinishReason: finish,
			},
		},
		Usage: sdk.CompletionUsage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubChatClient{resp: textCompletion("world", "stop")}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := cl.Complete(context.Background(), model.Request{
		Messages: []chat.Turn{chat.System("terse"), chat.User("hello")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "world" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.StopReason != "stop" {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if string(stub.lastParams.Model) != "gpt-4o" {
		t.Fatalf("unexpected model %q", stub.lastParams.Model)
	}
	if len(stub.lastParams.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(stub.lastParams.Messages))
	}
}

func TestComplete_ToolCalls(t *testing.T) {
	stub := &stubChatClient{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{
					Message: sdk.ChatCompletionMessage{
						ToolCalls: []sdk.ChatCompletionMessageToolCall{
							{
								ID: "call-1",
								Function: sdk.ChatCompletionMessageToolCallFunction{
									Name:      "echo",
									Arguments: `{"text":"hi"}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		},
	}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := cl.Complete(context.Background(), model.Request{
		Messages: []chat.Turn{chat.User("go")},
		Tools: []model.ToolDefinition{
			{Name: "echo", Description: "echoes", InputSchema: map[string]any{"type": "object"}},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call-1" || call.Name != "echo" || string(call.Args) != `{"text":"hi"}` {
		t.Fatalf("unexpected tool call: %+v", call)
	}
	if len(stub.lastParams.Tools) != 1 || stub.lastParams.Tools[0].Function.Name != "echo" {
		t.Fatalf("tool definitions not encoded: %+v", stub.lastParams.Tools)
	}
}

func TestComplete_ToolLoopHistoryRoundTrips(t *testing.T) {
	stub := &stubChatClient{resp: textCompletion("done", "stop")}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	assistant := chat.Assistant("")
	assistant.ToolCalls = []chat.ToolCall{{ID: "call-1", Name: "echo", Args: json.RawMessage(`{"text":"hi"}`)}}
	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []chat.Turn{
			chat.User("go"),
			assistant,
			chat.Tool("echo", "call-1", "hi"),
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(stub.lastParams.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(stub.lastParams.Messages))
	}
	mid := stub.lastParams.Messages[1]
	if mid.OfAssistant == nil || len(mid.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls not re-encoded: %+v", mid)
	}
	last := stub.lastParams.Messages[2]
	if last.OfTool == nil || last.OfTool.ToolCallID != "call-1" {
		t.Fatalf("tool message not re-encoded: %+v", last)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	stub := &stubChatClient{err: &sdk.Error{StatusCode: http.StatusTooManyRequests}}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), model.Request{Messages: []chat.Turn{chat.User("hi")}})
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	stub := &stubChatClient{resp: &sdk.ChatCompletion{}}
	cl, err := New(Options{Client: stub, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), model.Request{Messages: []chat.Turn{chat.User("hi")}})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{DefaultModel: "gpt-4o"}); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := New(Options{Client: &stubChatClient{}}); err == nil {
		t.Fatal("expected error for missing default model")
	}
}
