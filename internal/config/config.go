package config

import (
	"strings"
	"time"

	"aerodesk/pkg/config"
)

// Config stores environment configuration for Aerodesk.
type Config struct {
	Port                string
	DatabaseURL         string
	LLMProvider         string
	LLMModel            string
	LLMAPIKey           string
	LLMAPIURL           string
	LLMMaxTokens        int
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingAPIURL     string
	EmbeddingDimensions int
	KafkaBrokers        []string
	KafkaClientID       string
	BillingKafkaTopic   string
	EscalationEmail     string
	MaxHistoryMessages  int
	MaxToolRounds       int
	ChunkTokenLimit     int
	ChunkTokenOverlap   int
	UsageFlushInterval  time.Duration
}

// LoadConfig loads the Aerodesk configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:                config.GetEnv("PORT", "18020"),
		DatabaseURL:         config.RequireEnv("DATABASE_URL"),
		LLMProvider:         config.GetEnv("LLM_PROVIDER", ""),
		LLMModel:            config.GetEnv("LLM_MODEL", ""),
		LLMAPIKey:           config.GetEnv("LLM_API_KEY", ""),
		LLMAPIURL:           config.GetEnv("LLM_API_URL", ""),
		LLMMaxTokens:        config.GetEnvInt("LLM_MAX_TOKENS", 4096),
		EmbeddingProvider:   config.GetEnv("EMBEDDING_PROVIDER", config.GetEnv("LLM_PROVIDER", "")),
		EmbeddingModel:      config.GetEnv("EMBEDDING_MODEL", config.GetEnv("LLM_MODEL", "")),
		EmbeddingAPIKey:     config.GetEnv("EMBEDDING_API_KEY", config.GetEnv("LLM_API_KEY", "")),
		EmbeddingAPIURL:     config.GetEnv("EMBEDDING_API_URL", config.GetEnv("LLM_API_URL", "")),
		EmbeddingDimensions: config.GetEnvInt("EMBEDDING_DIMENSIONS", 0),
		KafkaBrokers:        parseBrokerList(config.GetEnv("KAFKA_BROKERS", "")),
		KafkaClientID:       config.GetEnv("KAFKA_CLIENT_ID", "aerodesk"),
		BillingKafkaTopic:   config.GetEnv("BILLING_KAFKA_TOPIC", "desk.usage_reports"),
		EscalationEmail:     config.GetEnv("AERODESK_ESCALATION_EMAIL", ""),
		MaxHistoryMessages:  config.GetEnvInt("AERODESK_MAX_HISTORY_MESSAGES", 20),
		MaxToolRounds:       config.GetEnvInt("AERODESK_MAX_TOOL_ROUNDS", 6),
		ChunkTokenLimit:     config.GetEnvInt("CHUNK_TOKEN_LIMIT", 1000),
		ChunkTokenOverlap:   config.GetEnvInt("CHUNK_TOKEN_OVERLAP", 200),
		UsageFlushInterval:  parseDuration(config.GetEnv("AERODESK_USAGE_FLUSH_INTERVAL", "1m"), time.Minute),
	}
}

func parseBrokerList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
