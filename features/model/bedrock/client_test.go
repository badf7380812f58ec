package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/model"
)

type stubRuntime struct {
	lastInput *bedrockruntime.ConverseInput
	output    *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.output, s.err
}

func textOutput(text, stop string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: brtypes.StopReason(stop),
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(12),
			OutputTokens: aws.Int32(4),
			TotalTokens:  aws.Int32(16),
		},
	}
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubRuntime{output: textOutput("world", "end_turn")}
	cl, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-sonnet"})
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
	if resp.StopReason != "end_turn" {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if aws.ToString(stub.lastInput.ModelId) != "anthropic.claude-sonnet" {
		t.Fatalf("unexpected model %q", aws.ToString(stub.lastInput.ModelId))
	}
	if len(stub.lastInput.System) != 1 {
		t.Fatalf("system not carried out of band: %+v", stub.lastInput.System)
	}
	if len(stub.lastInput.Messages) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(stub.lastInput.Messages))
	}
}

func TestComplete_ToolUse(t *testing.T) {
	stub := &stubRuntime{
		output: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberToolUse{
							Value: brtypes.ToolUseBlock{
								ToolUseId: aws.String("call-1"),
								Name:      aws.String("echo"),
								Input:     document.NewLazyDocument(map[string]any{"text": "hi"}),
							},
						},
					},
				},
			},
			StopReason: brtypes.StopReasonToolUse,
		},
	}
	cl, err := New(Options{Runtime: stub, DefaultModel: "m"})
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
	if call.ID != "call-1" || call.Name != "echo" {
		t.Fatalf("unexpected tool call: %+v", call)
	}
	var args map[string]any
	if err := json.Unmarshal(call.Args, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args["text"] != "hi" {
		t.Fatalf("unexpected args: %v", args)
	}
	if stub.lastInput.ToolConfig == nil || len(stub.lastInput.ToolConfig.Tools) != 1 {
		t.Fatalf("tool config not encoded: %+v", stub.lastInput.ToolConfig)
	}
}

func TestComplete_ToolResultEncoding(t *testing.T) {
	stub := &stubRuntime{output: textOutput("done", "end_turn")}
	cl, err := New(Options{Runtime: stub, DefaultModel: "m"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	assistant := chat.Assistant("")
	assistant.ToolCalls = []chat.ToolCall{{ID: "call-1", Name: "echo", Args: json.RawMessage(`{"text":"hi"}`)}}
	_, err = cl.Complete(context.Background(), model.Request{
		Messages: []chat.Turn{
			chat.User("go"),
			assistant,
			chat.Tool("echo", "call-1", "error: unknown tool echo"),
		},
		Tools: []model.ToolDefinition{{Name: "echo", Description: "d"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(stub.lastInput.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(stub.lastInput.Messages))
	}
	last := stub.lastInput.Messages[2]
	if last.Role != brtypes.ConversationRoleUser {
		t.Fatalf("tool result must ride a user message, got %v", last.Role)
	}
	result, ok := last.Content[0].(*brtypes.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("expected tool result block, got %T", last.Content[0])
	}
	if result.Value.Status != brtypes.ToolResultStatusError {
		t.Fatalf("error content must map to error status, got %v", result.Value.Status)
	}
}

func TestComplete_ThrottlingIsRateLimited(t *testing.T) {
	stub := &stubRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	cl, err := New(Options{Runtime: stub, DefaultModel: "m"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), model.Request{Messages: []chat.Turn{chat.User("hi")}})
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestComplete_InferenceConfigDefaults(t *testing.T) {
	stub := &stubRuntime{output: textOutput("ok", "end_turn")}
	cl, err := New(Options{Runtime: stub, DefaultModel: "m", MaxTokens: 512, Temperature: 0.3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), model.Request{Messages: []chat.Turn{chat.User("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	cfg := stub.lastInput.InferenceConfig
	if cfg == nil || aws.ToInt32(cfg.MaxTokens) != 512 || aws.ToFloat32(cfg.Temperature) != 0.3 {
		t.Fatalf("unexpected inference config: %+v", cfg)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{DefaultModel: "m"}); err == nil {
		t.Fatal("expected error for nil runtime")
	}
	if _, err := New(Options{Runtime: &stubRuntime{}}); err == nil {
		t.Fatal("expected error for missing default model")
	}
}
