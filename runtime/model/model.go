// Package model defines the provider-agnostic contract the reasoning graph
// uses to invoke chat models. Implementations wrap provider SDKs (Anthropic,
// OpenAI, Bedrock) and translate Request/Response into provider-specific
// formats. Clients must be safe for concurrent use; the graph may invoke
// different threads in parallel against one client.
package model

import (
	"context"
	"errors"

	"github.com/quadracode/quadracode/runtime/chat"
)

type (
	// Client is the contract the reasoning graph drives. Complete sends the
	// full working transcript plus tool definitions and returns the
	// assistant's next contribution.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for one model invocation.
	Request struct {
		// Model is the provider-specific model identifier. Empty selects the
		// adapter's configured default.
		Model string

		// Messages is the ordered transcript, including the leading system
		// turn. Adapters that carry system prompts out of band extract it.
		Messages []chat.Turn

		// Tools describes the tool schemas exposed to the model. Empty when
		// the model should not invoke tools.
		Tools []ToolDefinition

		// Temperature controls sampling. Zero means use the adapter default.
		Temperature float32

		// MaxTokens caps the completion length. Zero means use the adapter
		// default.
		MaxTokens int
	}

	// Response is the assistant's contribution for one invocation.
	Response struct {
		// Content is the generated assistant text. May be empty when the
		// model only requested tool calls.
		Content string

		// ToolCalls lists the tool invocations requested by the model, in
		// order. Empty for a final text response.
		ToolCalls []chat.ToolCall

		// Usage reports token counts when the provider supplies them.
		Usage TokenUsage

		// StopReason is the provider-specific termination reason, for
		// example "end_turn", "tool_use" or "max_tokens".
		StopReason string
	}

	// ToolDefinition describes one tool schema passed to the provider for
	// function calling.
	ToolDefinition struct {
		// Name is the identifier presented to the model. Unique within a
		// request.
		Name string

		// Description documents the tool for prompting purposes.
		Description string

		// InputSchema is the JSON Schema object describing the tool's
		// arguments.
		InputSchema map[string]any
	}

	// TokenUsage records prompt and completion token counts when reported.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// ErrRateLimited marks provider throttling. Adapters wrap the provider error
// so the rate-limit middleware can react with errors.Is.
var ErrRateLimited = errors.New("model: rate limited")
