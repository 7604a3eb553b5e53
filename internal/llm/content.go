package llm

import (
	"encoding/json"
	"fmt"
)

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged union. Which fields are meaningful depends on Type:
//
//	text:        Text
//	tool_use:    ID, Name, Input
//	tool_result: ToolUseID, Name, Content, IsError
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use block. Empty input becomes "{}".
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock answers the tool_use with the given id. name is only
// needed by providers that key results by function name.
func ToolResultBlock(toolUseID, name, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Name: name, Content: content, IsError: isError}
}

// DecodeInput unmarshals a tool_use input into v.
func (b ContentBlock) DecodeInput(v any) error {
	if b.Type != BlockToolUse {
		return fmt.Errorf("block %s has no tool input", b.Type)
	}
	if err := json.Unmarshal(b.Input, v); err != nil {
		return fmt.Errorf("decode %s input: %w", b.Name, err)
	}
	return nil
}

// TextResponse wraps plain text from a model without tool support.
func TextResponse(text string) *CompletionResponse {
	return &CompletionResponse{StopReason: StopEndTurn, Content: []ContentBlock{TextBlock(text)}}
}

func inputMap(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
