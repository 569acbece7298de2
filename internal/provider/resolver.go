package provider

import (
	"fmt"
	"strings"
)

// Supported provider IDs.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderVertex    = "vertex"
)

// providerAliases maps common aliases to canonical provider IDs.
var providerAliases = map[string]string{
	"claude":        "anthropic",
	"aws":           "bedrock",
	"google":        "vertex",
	"google-vertex": "vertex",
}

// NormalizeProviderID resolves aliases and normalizes the provider ID.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// Resolve constructs the LLMProvider for a session. Resolution fails closed:
// an unknown provider ID or missing credentials is an error, never a silent
// fallback to a different backend.
func Resolve(providerID, model, apiKey string) (LLMProvider, error) {
	switch NormalizeProviderID(providerID) {
	case ProviderAnthropic:
		if apiKey == "" {
			return nil, &ProviderError{Provider: ProviderAnthropic, Hint: "set DESKCLAW_ANTHROPIC_API_KEY or supply api_key when creating the session"}
		}
		if model == "" {
			return nil, &ProviderError{Provider: ProviderAnthropic, Hint: "no model configured for session"}
		}
		return NewAnthropicProvider(apiKey, model), nil

	case ProviderBedrock, ProviderVertex:
		return nil, &ProviderError{Provider: NormalizeProviderID(providerID), Hint: "not supported in this build; use provider \"anthropic\""}

	default:
		return nil, &ProviderError{Provider: providerID, Hint: fmt.Sprintf("unknown provider ID %q (supported: anthropic)", providerID)}
	}
}

// ProviderError is returned when a provider cannot be constructed.
type ProviderError struct {
	Provider string
	Hint     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Hint)
}
