package provider

import (
	"errors"
	"testing"
)

func TestNormalizeProviderID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"anthropic", "anthropic"},
		{"claude", "anthropic"},
		{"Anthropic", "anthropic"},
		{"  ANTHROPIC  ", "anthropic"},
		{"aws", "bedrock"},
		{"google", "vertex"},
		{"google-vertex", "vertex"},
		{"mystery", "mystery"},
	}
	for _, tt := range tests {
		if got := NormalizeProviderID(tt.in); got != tt.want {
			t.Errorf("NormalizeProviderID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveAnthropic(t *testing.T) {
	prov, err := Resolve("anthropic", "claude-sonnet-4-20250514", "sk-test")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if prov.DefaultModel() != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", prov.DefaultModel())
	}
}

func TestResolveFailsClosed(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		apiKey   string
	}{
		{"unknown provider", "openai", "gpt-4o", "sk-test"},
		{"missing api key", "anthropic", "claude-sonnet-4-20250514", ""},
		{"missing model", "anthropic", "", "sk-test"},
		{"bedrock unsupported", "bedrock", "claude-sonnet-4-20250514", "sk-test"},
		{"vertex unsupported", "vertex", "claude-sonnet-4-20250514", "sk-test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.provider, tt.model, tt.apiKey)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var perr *ProviderError
			if !errors.As(err, &perr) {
				t.Errorf("expected *ProviderError, got %T: %v", err, err)
			}
		})
	}
}

func TestChatResponseHelpers(t *testing.T) {
	resp := &ChatResponse{Blocks: []ContentBlock{
		{Type: BlockText, Text: "Taking a "},
		{Type: BlockText, Text: "screenshot."},
		{Type: BlockToolUse, ToolUseID: "toolu_01", ToolName: "computer", ToolInput: map[string]any{"action": "screenshot"}},
	}}
	if got := resp.Text(); got != "Taking a screenshot." {
		t.Errorf("Text() = %q", got)
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].ToolName != "computer" {
		t.Errorf("ToolUses() = %+v", uses)
	}
}
