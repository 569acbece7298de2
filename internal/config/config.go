// Package config defines the DeskClaw configuration: defaults, the JSON
// config file, and DESKCLAW_* environment overrides.
package config

// Config is the root configuration.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Gateway   GatewayConfig   `json:"gateway"`
	Model     ModelConfig     `json:"model"`
	Anthropic AnthropicConfig `json:"anthropic"`
	Agent     AgentConfig     `json:"agent"`
	Display   DisplayConfig   `json:"display"`
	Tools     ToolsConfig     `json:"tools"`
	Session   SessionConfig   `json:"session"`
	Mirror    MirrorConfig    `json:"mirror"`
}

// PathsConfig locates the data directory and the agent workspace.
type PathsConfig struct {
	DataDir   string `json:"dataDir" envconfig:"DATA_DIR"`
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// ModelConfig selects the default provider and model for new sessions.
type ModelConfig struct {
	Provider string `json:"provider" envconfig:"PROVIDER"`
	Name     string `json:"name" envconfig:"NAME"`
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	APIKey string `json:"apiKey" envconfig:"API_KEY"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxTurns      int `json:"maxTurns" envconfig:"MAX_TURNS"`
	MaxTokens     int `json:"maxTokens" envconfig:"MAX_TOKENS"`
	RetryAttempts int `json:"retryAttempts" envconfig:"RETRY_ATTEMPTS"`
}

// DisplayConfig configures the virtual display and VNC bridge.
type DisplayConfig struct {
	Num                 int `json:"num" envconfig:"NUM"`
	Width               int `json:"width" envconfig:"WIDTH"`
	Height              int `json:"height" envconfig:"HEIGHT"`
	VNCPort             int `json:"vncPort" envconfig:"VNC_PORT"`
	StartTimeoutSeconds int `json:"startTimeoutSeconds" envconfig:"START_TIMEOUT_SECONDS"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	RestrictToWorkspace bool `json:"restrictToWorkspace" envconfig:"RESTRICT_TO_WORKSPACE"`
}

// SessionConfig tunes the session registry's reaper.
type SessionConfig struct {
	ReapIntervalSeconds int `json:"reapIntervalSeconds" envconfig:"REAP_INTERVAL_SECONDS"`
	IdleEvictionMinutes int `json:"idleEvictionMinutes" envconfig:"IDLE_EVICTION_MINUTES"`
	RetentionHours      int `json:"retentionHours" envconfig:"RETENTION_HOURS"`
}

// MirrorConfig configures the optional Kafka event mirror.
type MirrorConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
}

// DefaultConfig returns the recommended settings.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Model: ModelConfig{
			Provider: "anthropic",
			Name:     "claude-sonnet-4-20250514",
		},
		Agent: AgentConfig{
			MaxTurns:      100,
			MaxTokens:     4096,
			RetryAttempts: 3,
		},
		Display: DisplayConfig{
			Num:                 1,
			Width:               1024,
			Height:              768,
			VNCPort:             5900,
			StartTimeoutSeconds: 10,
		},
		Session: SessionConfig{
			ReapIntervalSeconds: 60,
			IdleEvictionMinutes: 30,
			RetentionHours:      24,
		},
		Mirror: MirrorConfig{
			Enabled: false,
			Topic:   "deskclaw.events",
		},
	}
}
