package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/approval"
)

// DefaultConfigName is the config file looked up when --config is not given.
const DefaultConfigName = "strand.yaml"

// Config is the strand CLI configuration, loaded from YAML with environment
// overrides.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Storage   StorageConfig   `yaml:"storage"`
	Engine    EngineConfig    `yaml:"engine"`
	Approval  approval.Policy `yaml:"approval"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Workspace string          `yaml:"workspace"`
}

// ModelConfig configures the Anthropic provider.
type ModelConfig struct {
	// APIKey authenticates against the Anthropic API. The ANTHROPIC_API_KEY
	// environment variable overrides it.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`

	// MaxTokens caps response length per model call.
	MaxTokens int `yaml:"max_tokens"`
}

// StorageConfig locates the durable stores. ":memory:" keeps a store
// in-process.
type StorageConfig struct {
	ActivityDB     string `yaml:"activity_db"`
	ConversationDB string `yaml:"conversation_db"`
}

// EngineConfig tunes the agent loop.
type EngineConfig struct {
	DefaultRole   string `yaml:"default_role"`
	HistoryLimit  int    `yaml:"history_limit"`
	MaxIterations int    `yaml:"max_iterations"`
}

// LoggingConfig configures the debug log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables
// export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// LoadConfig reads path, applies defaults, and overlays environment
// variables. A missing file is not an error; defaults plus environment
// apply.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			ActivityDB:     "strand-activity.db",
			ConversationDB: "strand-conversations.db",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if strings.TrimSpace(path) == "" {
		path = DefaultConfigName
		if env := strings.TrimSpace(os.Getenv("STRAND_CONFIG")); env != "" {
			path = env
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if env := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); env != "" {
		cfg.Model.APIKey = env
	}
	return cfg, nil
}
