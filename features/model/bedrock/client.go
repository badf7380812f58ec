// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It splits system from conversational turns, encodes
// tool schemas into Bedrock's ToolConfiguration and translates Converse
// responses (text + tool_use blocks) back into the generic structures.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/quadracode/quadracode/runtime/chat"
	"github.com/quadracode/quadracode/runtime/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass
// either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// DefaultModel is the model identifier used when model.Request.Model is
	// empty. Required.
	DefaultModel string

	// MaxTokens sets the default completion cap when a request does not
	// specify MaxTokens. When zero or negative the client omits MaxTokens so
	// Bedrock uses its own default.
	MaxTokens int

	// Temperature is used when a request does not specify Temperature.
	Temperature float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
}

// New initializes a Bedrock-powered model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// Complete issues a chat completion request to the configured Bedrock model
// using the Converse API and translates the response.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	input, err := c.buildConverseInput(req)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(output)
}

func (c *Client) buildConverseInput(req model.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, system, err := encodeTurns(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	toolConfig, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input, nil
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
	}
	t := temp
	if t <= 0 {
		t = c.temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// encodeTurns splits the transcript into Bedrock conversation messages and
// out-of-band system blocks. Tool turns ride user messages as tool_result
// blocks, per the Converse contract.
func encodeTurns(turns []chat.Turn) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(turns))
	system := make([]brtypes.SystemContentBlock, 0, 1)
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleSystem:
			if turn.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: turn.Content})
			}
		case chat.RoleUser:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: turn.Content}},
			})
		case chat.RoleAssistant:
			blocks := make([]brtypes.ContentBlock, 0, 1+len(turn.ToolCalls))
			if turn.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				input, err := decodeArgs(call.Args)
				if err != nil {
					return nil, nil, fmt.Errorf("bedrock: tool call %s arguments: %w", call.Name, err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: blocks,
			})
		case chat.RoleTool:
			status := brtypes.ToolResultStatusSuccess
			if strings.HasPrefix(turn.Content, "error:") {
				status = brtypes.ToolResultStatusError
			}
			conversation = append(conversation, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(turn.ToolCallID),
						Content: []brtypes.ToolResultContentBlock{
							&brtypes.ToolResultContentBlockMemberText{Value: turn.Content},
						},
						Status: status,
					},
				}},
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported turn role %q", turn.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		spec := brtypes.ToolSpecification{
			Name: aws.String(def.Name),
		}
		if def.Description != "" {
			spec.Description = aws.String(def.Description)
		}
		if len(def.InputSchema) > 0 {
			spec.InputSchema = &brtypes.ToolInputSchemaMemberJson{
				Value: document.NewLazyDocument(def.InputSchema),
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(tools) == 0 {
		return nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// isRateLimited reports whether err represents a provider rate limiting
// condition. It treats both HTTP 429 responses and provider error codes like
// ThrottlingException as rate-limited signals.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

func translateResponse(output *bedrockruntime.ConverseOutput) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	msgOut, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return model.Response{}, fmt.Errorf("bedrock: unexpected output type %T", output.Output)
	}
	var resp model.Response
	var text strings.Builder
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			text.WriteString(v.Value)
		case *brtypes.ContentBlockMemberToolUse:
			args, err := encodeDocument(v.Value.Input)
			if err != nil {
				return model.Response{}, fmt.Errorf("bedrock: tool use input: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
				ID:   aws.ToString(v.Value.ToolUseId),
				Name: aws.ToString(v.Value.Name),
				Args: args,
			})
		}
	}
	resp.Content = text.String()
	if u := output.Usage; u != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(u.InputTokens)),
			OutputTokens: int(aws.ToInt32(u.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(u.TotalTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}

func encodeDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
