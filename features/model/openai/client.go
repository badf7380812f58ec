// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates graph requests into Chat.Completions
// calls using github.com/openai/openai-go and maps responses back to the
// generic structures.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/model"
)

// ChatClient captures the subset of the openai-go client used by the adapter.
// It is satisfied by client.Chat.Completions.
type ChatClient interface {
	New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Client is the chat completions service. Required.
	Client ChatClient
	// DefaultModel is the model identifier used when model.Request.Model is
	// empty. Required.
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &oc.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeTurns(req.Messages)
	if err != nil {
		return model.Response{}, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp)
}

func encodeTurns(turns []chat.Turn) ([]sdk.ChatCompletionMessageParamUnion, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleSystem:
			messages = append(messages, sdk.SystemMessage(turn.Content))
		case chat.RoleUser:
			messages = append(messages, sdk.UserMessage(turn.Content))
		case chat.RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, sdk.AssistantMessage(turn.Content))
				continue
			}
			assistant := sdk.ChatCompletionAssistantMessageParam{}
			if turn.Content != "" {
				assistant.Content.OfString = sdk.String(turn.Content)
			}
			for _, call := range turn.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Args),
					},
				})
			}
			messages = append(messages, sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case chat.RoleTool:
			messages = append(messages, sdk.ToolMessage(turn.Content, turn.ToolCallID))
		default:
			return nil, fmt.Errorf("openai: unsupported turn role %q", turn.Role)
		}
	}
	return messages, nil
}

func encodeTools(defs []model.ToolDefinition) []sdk.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		if len(def.InputSchema) > 0 {
			fn.Parameters = shared.FunctionParameters(def.InputSchema)
		}
		tools = append(tools, sdk.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

// isRateLimited reports whether err is an HTTP 429 from the OpenAI API.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apierr *sdk.Error
	return errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests
}

func translateResponse(resp *sdk.ChatCompletion) (model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := model.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, chat.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: []byte(call.Function.Arguments),
		})
	}
	if u := resp.Usage; u.PromptTokens != 0 || u.CompletionTokens != 0 {
		out.Usage = model.TokenUsage{
			InputTokens:  int(u.PromptTokens),
			OutputTokens: int(u.CompletionTokens),
			TotalTokens:  int(u.TotalTokens),
		}
	}
	return out, nil
}
