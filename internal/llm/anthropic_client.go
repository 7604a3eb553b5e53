package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 2048
)

// AnthropicClient implements Client on the official Anthropic SDK.
type AnthropicClient struct {
	client anthropic.Client
	opts   Options
}

// NewAnthropicClient creates an Anthropic client backed by the official SDK.
func NewAnthropicClient(opts Options) (*AnthropicClient, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic client requires an API key")
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = defaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		opts:   opts,
	}, nil
}

func (c *AnthropicClient) GetModelName() string { return c.opts.Model }

func (c *AnthropicClient) SupportsTools() bool { return true }

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	return completeText(ctx, c, prompt, c.opts)
}

func (c *AnthropicClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := buildAnthropicParams(c.opts.Model, c.opts.MaxTokens, req)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}
	return convertAnthropicMessage(msg), nil
}

func buildAnthropicParams(model string, defaultMax int, req *CompletionRequest) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic completion request cannot be nil")
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for idx, msg := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, b := range msg.Content {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, inputMap(b.Input), b.Name))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			default:
				return anthropic.MessageNewParams{}, fmt.Errorf("message %d: unknown block type %q", idx, b.Type)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic completion requires at least one user or assistant message")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMax
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}
	return params, nil
}

func convertAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}

		tool := &anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: schema,
			Type:        anthropic.ToolTypeCustom,
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: tool})
	}
	return result
}

func convertAnthropicMessage(msg *anthropic.Message) *CompletionResponse {
	if msg == nil {
		return &CompletionResponse{StopReason: StopEndTurn}
	}

	out := &CompletionResponse{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, TextBlock(block.Text))
		case "tool_use":
			out.Content = append(out.Content, ToolUseBlock(block.ID, block.Name, block.Input))
		}
	}

	switch string(msg.StopReason) {
	case "tool_use":
		out.StopReason = StopToolUse
	case "max_tokens":
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out
}
