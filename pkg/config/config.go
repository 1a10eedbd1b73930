// Package config loads and validates docsight configuration.
//
// Configuration is environment-first: every knob has a default, every
// default can be overridden by an environment variable, and an optional
// docsight.yaml overlay (merged before env) covers deployments that prefer
// file-based config.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Model        ModelConfig        `yaml:"model"`
	MCP          MCPConfig          `yaml:"mcp"`
	Conversation ConversationConfig `yaml:"conversation"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint"`
	Tools        ToolsConfig        `yaml:"tools"`
	Index        IndexConfig        `yaml:"index"`
	Research     ResearchConfig     `yaml:"research"`
	Server       ServerConfig       `yaml:"server"`
}

// ModelConfig configures the outbound language-model client.
type ModelConfig struct {
	// Provider selects the SDK path: "anthropic" or "openai".
	// "openai" covers any OpenAI-compatible endpoint via BaseURL.
	Provider string `yaml:"provider"`
	ModelID  string `yaml:"model_id"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`

	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`

	// BudgetUSD caps the estimated spend per conversation. Zero disables
	// budget enforcement.
	BudgetUSD        float64 `yaml:"budget_usd"`
	InputCostPer1K   float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K  float64 `yaml:"output_cost_per_1k"`
	SummaryMaxTokens int     `yaml:"summary_max_tokens"`
}

// MCPConfig configures the connection to the remote tool aggregator.
type MCPConfig struct {
	AggregatorURL       string        `yaml:"aggregator_url"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// ConversationConfig bounds the in-memory conversation store.
type ConversationConfig struct {
	// MaxThreads bounds the ReAct conversation store.
	MaxThreads int `yaml:"max_threads"`
	// MaxSearchThreads bounds the plan-execute conversation store.
	MaxSearchThreads     int           `yaml:"max_search_threads"`
	MaxMessagesPerThread int           `yaml:"max_messages_per_thread"`
	TTL                  time.Duration `yaml:"ttl"`

	// MaxConversationMessages caps how many stored history messages are
	// included in a single model prompt. Storage keeps up to
	// MaxMessagesPerThread; prompts carry only this recent window.
	MaxConversationMessages int `yaml:"max_conversation_messages"`

	// SummarizationThreshold is the message count at which the ReAct
	// engine routes to summarization.
	SummarizationThreshold int `yaml:"summarization_threshold"`
	// MinMessagesSinceSummary gates re-summarization after a summary.
	MinMessagesSinceSummary int `yaml:"min_messages_since_summary"`
	// KeepRecentMessages is how many tail messages survive summarization.
	KeepRecentMessages int `yaml:"keep_recent_messages"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	// Backend is "memory" or "postgres".
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// ToolsConfig bounds tool dispatch and result normalization.
type ToolsConfig struct {
	MaxContentLen        int           `yaml:"max_content_len"`
	RefImageMaxAttach    int           `yaml:"ref_image_max_attach"`
	RefImageMaxBase64Len int           `yaml:"ref_image_max_base64_len"`
	CallTimeout          time.Duration `yaml:"call_timeout"`
	MaxAttempts          int           `yaml:"max_attempts"`
}

// IndexConfig configures the search index and document service clients.
type IndexConfig struct {
	SearchURL          string        `yaml:"search_url"`
	DocumentServiceURL string        `yaml:"document_service_url"`
	HybridSearchSize   int           `yaml:"hybrid_search_size"`
	RerankThreshold    float64       `yaml:"rerank_score_threshold"`
	RerankTopN         int           `yaml:"rerank_top_n"`
	Timeout            time.Duration `yaml:"timeout"`
}

// ResearchConfig tunes the deep-research worker pool.
type ResearchConfig struct {
	BatchSize     int `yaml:"batch_size"`
	NumWorkers    int `yaml:"num_workers"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
}

// Initialize loads, merges, and validates configuration.
//
// Steps:
//  1. Start from built-in defaults
//  2. Overlay docsight.yaml from configDir (if present)
//  3. Apply environment variable overrides
//  4. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := defaultConfig()

	if err := overlayYAML(cfg, configDir); err != nil {
		return nil, fmt.Errorf("failed to load yaml overlay: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info("Configuration initialized",
		"model_provider", cfg.Model.Provider,
		"model_id", cfg.Model.ModelID,
		"checkpoint_backend", cfg.Checkpoint.Backend)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown model provider %q (want anthropic or openai)", c.Model.Provider)
	}
	switch c.Checkpoint.Backend {
	case "memory":
	case "postgres":
		if c.Checkpoint.DatabaseURL == "" {
			return fmt.Errorf("checkpoint backend %q requires DATABASE_URL", c.Checkpoint.Backend)
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q (want memory or postgres)", c.Checkpoint.Backend)
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.Model.MaxTokens)
	}
	if c.Tools.MaxContentLen <= 0 {
		return fmt.Errorf("max_content_len must be positive, got %d", c.Tools.MaxContentLen)
	}
	if c.Research.BatchSize <= 0 {
		return fmt.Errorf("research batch_size must be positive, got %d", c.Research.BatchSize)
	}
	if c.Research.MaxConcurrent <= 0 {
		return fmt.Errorf("research max_concurrent must be positive, got %d", c.Research.MaxConcurrent)
	}
	return nil
}
