package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGoogleModel = "models/gemini-2.0-flash"

// GoogleClient implements Client on the Google GenAI SDK (Gemini API).
type GoogleClient struct {
	client *genai.Client
	opts   Options
}

// NewGoogleClient creates a Gemini client for the configured model.
func NewGoogleClient(ctx context.Context, opts Options) (*GoogleClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("google client requires an API key")
	}
	opts.Model = normalizeGoogleModelName(opts.Model)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google GenAI client: %w", err)
	}
	return &GoogleClient{client: client, opts: opts}, nil
}

func normalizeGoogleModelName(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultGoogleModel
	}
	if !strings.HasPrefix(model, "models/") {
		return "models/" + model
	}
	return model
}

func (c *GoogleClient) GetModelName() string { return c.opts.Model }

func (c *GoogleClient) SupportsTools() bool { return true }

func (c *GoogleClient) Complete(ctx context.Context, prompt string) (string, error) {
	return completeText(ctx, c, prompt, c.opts)
}

func (c *GoogleClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("google completion request cannot be nil")
	}
	contents := convertMessagesToGenAI(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.opts.Model, contents, buildGenAIConfig(req))
	if err != nil {
		return nil, fmt.Errorf("google genai completion failed: %w", err)
	}
	return convertGenAIResponse(resp), nil
}

func convertMessagesToGenAI(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		parts := make([]*genai.Part, 0, len(msg.Content))
		for _, b := range msg.Content {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					parts = append(parts, genai.NewPartFromText(b.Text))
				}
			case BlockToolUse:
				parts = append(parts, genai.NewPartFromFunctionCall(b.Name, inputMap(b.Input)))
			case BlockToolResult:
				payload := map[string]any{"output": b.Content}
				if b.IsError {
					payload = map[string]any{"error": b.Content}
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(b.Name, payload))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

func buildGenAIConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}
	return cfg
}

func convertGenAIResponse(resp *genai.GenerateContentResponse) *CompletionResponse {
	out := &CompletionResponse{StopReason: StopEndTurn}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for i, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				args = []byte("{}")
			}
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, fc.Name)
			}
			out.Content = append(out.Content, ToolUseBlock(id, fc.Name, args))
			out.StopReason = StopToolUse
		}
	}
	if text.Len() > 0 {
		out.Content = append([]ContentBlock{TextBlock(text.String())}, out.Content...)
	}
	if out.StopReason == StopEndTurn && string(candidate.FinishReason) == "MAX_TOKENS" {
		out.StopReason = StopMaxTokens
	}
	return out
}
