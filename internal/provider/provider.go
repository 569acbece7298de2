// Package provider implements LLM provider interfaces and clients.
package provider

import (
	"context"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// LLMProvider is the interface for LLM API clients.
type LLMProvider interface {
	// Chat sends a completion request and returns the full response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Streamer is an optional interface for providers that support incremental
// text delivery. Callers should use type assertion:
// if s, ok := prov.(Streamer); ok { ... }
// onDelta is invoked for each text fragment as it arrives; the full response
// is still returned at the end.
type Streamer interface {
	ChatStream(ctx context.Context, req *ChatRequest, onDelta func(text string)) (*ChatResponse, error)
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	Model     string
	MaxTokens int
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Blocks     []ContentBlock
	StopReason string
	Usage      Usage
}

// Message represents a chat message as an ordered list of content blocks.
type Message struct {
	Role   string         `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// ContentBlock is a single piece of message content. Type selects which
// fields are meaningful: text blocks carry Text, tool_use blocks carry
// ToolUseID/ToolName/ToolInput, tool_result blocks carry
// ToolUseID/ToolResult/IsError.
type ContentBlock struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, result string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, ToolResult: result, IsError: isError}
}

// ToolUses returns the tool_use blocks of a response, in order.
func (r *ChatResponse) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Text concatenates the text blocks of a response.
func (r *ChatResponse) Text() string {
	var s string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// ToolDefinition defines a tool exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
