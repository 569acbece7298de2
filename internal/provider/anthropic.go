package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a provider for the Anthropic API.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// DefaultModel returns the configured model.
func (p *AnthropicProvider) DefaultModel() string {
	return p.model
}

// Chat sends a completion request and returns the full response.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	return convertResponse(resp)
}

// ChatStream sends a completion request, invoking onDelta for each text
// fragment as it arrives, and returns the accumulated response.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *ChatRequest, onDelta func(text string)) (*ChatResponse, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream: accumulate: %w", err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if onDelta != nil && deltaVariant.Text != "" {
					onDelta(deltaVariant.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return convertResponse(&message)
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
		Tools:     buildTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// buildMessages converts the provider-neutral history to Anthropic format.
func buildMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, b.ToolInput, b.ToolName))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.ToolResult, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// buildTools converts tool definitions to Anthropic API format.
func buildTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	apiTools := make([]anthropic.ToolUnionParam, len(defs))
	for i, t := range defs {
		schema := t.InputSchema
		properties := schema["properties"]
		required, _ := schema["required"].([]string)

		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: properties,
			Required:   required,
			Type:       "object",
		}

		toolUnion := anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
		if desc := toolUnion.OfTool; desc != nil {
			desc.Description = anthropic.Opt(t.Description)
		}
		apiTools[i] = toolUnion
	}
	return apiTools
}

func convertResponse(msg *anthropic.Message) (*ChatResponse, error) {
	resp := &ChatResponse{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, content := range msg.Content {
		switch content.Type {
		case "text":
			resp.Blocks = append(resp.Blocks, ContentBlock{Type: BlockText, Text: content.Text})
		case "tool_use":
			var input map[string]any
			if len(content.Input) > 0 {
				if err := json.Unmarshal([]byte(content.Input), &input); err != nil {
					return nil, fmt.Errorf("parse tool input for %s: %w", content.Name, err)
				}
			}
			resp.Blocks = append(resp.Blocks, ContentBlock{
				Type:      BlockToolUse,
				ToolUseID: content.ID,
				ToolName:  content.Name,
				ToolInput: input,
			})
		}
	}
	return resp, nil
}

// IsRetryable reports whether an API error is transient (rate limit or
// server-side) and worth retrying with backoff. Transport-level failures
// with no API status are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 408, 429, 500, 502, 503, 529:
			return true
		}
		return false
	}
	return true
}
