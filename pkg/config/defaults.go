package config

import "time"

// Built-in defaults. Every value here can be overridden by docsight.yaml
// or by the corresponding environment variable (see env.go).
const (
	DefaultModelProvider = "anthropic"
	DefaultModelID       = "claude-sonnet-4-20250514"
	DefaultMaxTokens     = 4096
	DefaultModelTimeout  = 60 * time.Second
	DefaultMaxRetries    = 3

	DefaultSummarizationThreshold  = 12
	DefaultMinMessagesSinceSummary = 6
	DefaultKeepRecentMessages      = 4
	DefaultMaxConversationMessages = 10

	DefaultMaxThreads           = 100
	DefaultMaxSearchThreads     = 500
	DefaultMaxMessagesPerThread = 50
	DefaultConversationTTL      = 3600 * time.Second

	DefaultMCPHealthCheckTimeout  = 10 * time.Second
	DefaultMCPHealthCheckInterval = 60 * time.Second

	DefaultMaxContentLen        = 32000
	DefaultRefImageMaxAttach    = 1
	DefaultRefImageMaxBase64Len = 500000
	DefaultToolCallTimeout      = 30 * time.Second
	DefaultToolMaxAttempts      = 3

	DefaultHybridSearchSize     = 15
	DefaultRerankScoreThreshold = 0.05
	DefaultRerankTopN           = 5
	DefaultIndexTimeout         = 30 * time.Second

	DefaultResearchBatchSize     = 50
	DefaultResearchNumWorkers    = 3
	DefaultResearchMaxConcurrent = 1

	DefaultHTTPPort = "8080"
)

func defaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:   DefaultModelProvider,
			ModelID:    DefaultModelID,
			MaxTokens:  DefaultMaxTokens,
			Timeout:    DefaultModelTimeout,
			MaxRetries: DefaultMaxRetries,
			// Budget disabled unless configured.
			BudgetUSD:        0,
			InputCostPer1K:   0.003,
			OutputCostPer1K:  0.015,
			SummaryMaxTokens: 1024,
		},
		MCP: MCPConfig{
			HealthCheckTimeout:  DefaultMCPHealthCheckTimeout,
			HealthCheckInterval: DefaultMCPHealthCheckInterval,
		},
		Conversation: ConversationConfig{
			MaxThreads:              DefaultMaxThreads,
			MaxSearchThreads:        DefaultMaxSearchThreads,
			MaxMessagesPerThread:    DefaultMaxMessagesPerThread,
			MaxConversationMessages: DefaultMaxConversationMessages,
			TTL:                     DefaultConversationTTL,
			SummarizationThreshold:  DefaultSummarizationThreshold,
			MinMessagesSinceSummary: DefaultMinMessagesSinceSummary,
			KeepRecentMessages:      DefaultKeepRecentMessages,
		},
		Checkpoint: CheckpointConfig{
			Backend: "memory",
		},
		Tools: ToolsConfig{
			MaxContentLen:        DefaultMaxContentLen,
			RefImageMaxAttach:    DefaultRefImageMaxAttach,
			RefImageMaxBase64Len: DefaultRefImageMaxBase64Len,
			CallTimeout:          DefaultToolCallTimeout,
			MaxAttempts:          DefaultToolMaxAttempts,
		},
		Index: IndexConfig{
			HybridSearchSize: DefaultHybridSearchSize,
			RerankThreshold:  DefaultRerankScoreThreshold,
			RerankTopN:       DefaultRerankTopN,
			Timeout:          DefaultIndexTimeout,
		},
		Research: ResearchConfig{
			BatchSize:     DefaultResearchBatchSize,
			NumWorkers:    DefaultResearchNumWorkers,
			MaxConcurrent: DefaultResearchMaxConcurrent,
		},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
	}
}
