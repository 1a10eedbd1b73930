package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// applyEnv overrides configuration from environment variables.
// Environment wins over the YAML overlay, which wins over defaults.
func applyEnv(cfg *Config) {
	setString(&cfg.Model.Provider, "MODEL_PROVIDER")
	setString(&cfg.Model.ModelID, "MODEL_ID")
	setString(&cfg.Model.APIKey, "MODEL_API_KEY")
	setString(&cfg.Model.BaseURL, "MODEL_BASE_URL")
	setInt(&cfg.Model.MaxTokens, "MAX_TOKENS")
	setDuration(&cfg.Model.Timeout, "MODEL_TIMEOUT")
	setInt(&cfg.Model.MaxRetries, "MAX_RETRIES")
	setFloat(&cfg.Model.BudgetUSD, "MODEL_BUDGET_USD")
	setFloat(&cfg.Model.InputCostPer1K, "MODEL_INPUT_COST_PER_1K")
	setFloat(&cfg.Model.OutputCostPer1K, "MODEL_OUTPUT_COST_PER_1K")

	setString(&cfg.MCP.AggregatorURL, "MCP_AGGREGATOR_URL")
	setDuration(&cfg.MCP.HealthCheckTimeout, "MCP_HEALTH_CHECK_TIMEOUT")
	setDuration(&cfg.MCP.HealthCheckInterval, "MCP_HEALTH_CHECK_INTERVAL")

	setInt(&cfg.Conversation.MaxThreads, "MAX_THREADS")
	setInt(&cfg.Conversation.MaxSearchThreads, "MAX_SEARCH_THREADS")
	setInt(&cfg.Conversation.MaxMessagesPerThread, "MAX_MESSAGES_PER_THREAD")
	setInt(&cfg.Conversation.MaxConversationMessages, "MAX_CONVERSATION_MESSAGES")
	setDuration(&cfg.Conversation.TTL, "CONVERSATION_TTL")
	setInt(&cfg.Conversation.SummarizationThreshold, "SUMMARIZATION_THRESHOLD")

	setString(&cfg.Checkpoint.Backend, "CHECKPOINT_BACKEND")
	setString(&cfg.Checkpoint.DatabaseURL, "DATABASE_URL")

	setInt(&cfg.Tools.MaxContentLen, "MAX_CONTENT_LEN")
	setInt(&cfg.Tools.RefImageMaxAttach, "REF_IMAGE_MAX_ATTACH")
	setInt(&cfg.Tools.RefImageMaxBase64Len, "REF_IMAGE_MAX_BASE64_LEN")
	setDuration(&cfg.Tools.CallTimeout, "TOOL_CALL_TIMEOUT")

	setString(&cfg.Index.SearchURL, "SEARCH_INDEX_URL")
	setString(&cfg.Index.DocumentServiceURL, "DOCUMENT_SERVICE_URL")
	setInt(&cfg.Index.HybridSearchSize, "HYBRID_SEARCH_SIZE")
	setFloat(&cfg.Index.RerankThreshold, "RERANK_SCORE_THRESHOLD")
	setInt(&cfg.Index.RerankTopN, "RERANK_TOP_N")

	setInt(&cfg.Research.BatchSize, "RESEARCH_BATCH_SIZE")
	setInt(&cfg.Research.NumWorkers, "RESEARCH_NUM_WORKERS")
	setInt(&cfg.Research.MaxConcurrent, "RESEARCH_MAX_CONCURRENT")

	setString(&cfg.Server.HTTPPort, "HTTP_PORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment override", "key", key, "value", v)
		return
	}
	*dst = f
}

// setDuration accepts Go duration strings ("60s", "1h") and, for
// compatibility with numeric env conventions, bare integers as seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	slog.Warn("Ignoring unparseable duration override", "key", key, "value", v)
}
