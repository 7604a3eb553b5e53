package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4.1-mini"

// OpenAIClient implements Client on the OpenAI Responses API.
type OpenAIClient struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIClient creates an OpenAI client backed by the official SDK.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, fmt.Errorf("openai client requires an API key")
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = defaultOpenAIModel
	}

	apiClient := openai.NewClient(option.WithAPIKey(key))
	return &OpenAIClient{client: &apiClient, opts: opts}, nil
}

func (c *OpenAIClient) GetModelName() string { return c.opts.Model }

func (c *OpenAIClient) SupportsTools() bool { return true }

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return completeText(ctx, c, prompt, c.opts)
}

func (c *OpenAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := buildResponsesParams(c.opts.Model, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	return convertResponsesOutput(resp), nil
}

func buildResponsesParams(model string, req *CompletionRequest) (responses.ResponseNewParams, error) {
	if req == nil {
		return responses.ResponseNewParams{}, fmt.Errorf("openai completion request cannot be nil")
	}

	input := make(responses.ResponseInputParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := responses.EasyInputMessageRoleUser
		if msg.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		for _, b := range msg.Content {
			switch b.Type {
			case BlockText:
				if strings.TrimSpace(b.Text) != "" {
					input = append(input, responses.ResponseInputItemParamOfMessage(b.Text, role))
				}
			case BlockToolUse:
				input = append(input, responses.ResponseInputItemParamOfFunctionCall(string(b.Input), b.ID, b.Name))
			case BlockToolResult:
				input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(b.ToolUseID, b.Content))
			}
		}
	}
	if len(input) == 0 {
		return responses.ResponseNewParams{}, fmt.Errorf("no messages provided")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.Temperature > 0 && !isReasoningModel(model) {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		variant := responses.ToolParamOfFunction(t.Name, t.Parameters, false)
		if t.Description != "" && variant.OfFunction != nil {
			variant.OfFunction.Description = openai.String(t.Description)
		}
		params.Tools = append(params.Tools, variant)
	}
	return params, nil
}

// reasoning models reject a temperature parameter
func isReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-5")
}

func convertResponsesOutput(resp *responses.Response) *CompletionResponse {
	if resp == nil {
		return &CompletionResponse{StopReason: StopEndTurn}
	}

	out := &CompletionResponse{StopReason: StopEndTurn}
	if text := resp.OutputText(); text != "" {
		out.Content = append(out.Content, TextBlock(text))
	}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		id := call.CallID
		if id == "" {
			id = call.ID
		}
		out.Content = append(out.Content, ToolUseBlock(id, call.Name, []byte(call.Arguments)))
		out.StopReason = StopToolUse
	}
	if out.StopReason == StopEndTurn && string(resp.Status) == "incomplete" {
		out.StopReason = StopMaxTokens
	}
	return out
}
