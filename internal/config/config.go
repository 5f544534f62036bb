package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port   int
	DBPath string

	// Embedding
	OllamaBaseURL  string
	EmbeddingModel string
	EmbeddingDim   int

	// Extraction and temporal parsing (OpenAI-compatible endpoint)
	LLMBaseURL      string
	LLMAPIKey       string
	ExtractionModel string
	TemporalModel   string

	// Reranker
	RerankerURL   string
	RerankerModel string

	// Link building
	TemporalWindowHours int
	SemanticLinkK       int
	SemanticLinkMinSim  float64

	// Retrieval
	QueryTimeoutSeconds int

	// Ranking weights; must sum to 1
	ActivationWeight float64
	SemanticWeight   float64
	RecencyWeight    float64
	FrequencyWeight  float64

	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                envInt("PORT", 8750),
		DBPath:              envStr("HINDSIGHT_DB_PATH", "/data/hindsight.db"),
		OllamaBaseURL:       envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "all-minilm"),
		EmbeddingDim:        envInt("EMBEDDING_DIM", 384),
		LLMBaseURL:          envStr("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:           envStr("LLM_API_KEY", ""),
		ExtractionModel:     envStr("EXTRACTION_MODEL", "qwen2.5:7b"),
		TemporalModel:       envStr("TEMPORAL_MODEL", "qwen2.5:1.5b"),
		RerankerURL:         envStr("RERANKER_URL", ""),
		RerankerModel:       envStr("RERANKER_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
		TemporalWindowHours: envInt("TEMPORAL_WINDOW_HOURS", 24),
		SemanticLinkK:       envInt("SEMANTIC_LINK_K", 20),
		SemanticLinkMinSim:  envFloat("SEMANTIC_LINK_MIN_SIM", 0.7),
		QueryTimeoutSeconds: envInt("QUERY_TIMEOUT_SECONDS", 10),
		ActivationWeight:    envFloat("ACTIVATION_WEIGHT", 0.30),
		SemanticWeight:      envFloat("SEMANTIC_WEIGHT", 0.30),
		RecencyWeight:       envFloat("RECENCY_WEIGHT", 0.25),
		FrequencyWeight:     envFloat("FREQUENCY_WEIGHT", 0.15),
		LogLevel:            envStr("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("HINDSIGHT_DB_PATH must not be empty")
	}
	if c.OllamaBaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.TemporalWindowHours < 1 {
		return fmt.Errorf("TEMPORAL_WINDOW_HOURS must be positive, got %d", c.TemporalWindowHours)
	}
	if c.SemanticLinkMinSim <= 0 || c.SemanticLinkMinSim > 1 {
		return fmt.Errorf("SEMANTIC_LINK_MIN_SIM must be in (0, 1], got %f", c.SemanticLinkMinSim)
	}
	sum := c.ActivationWeight + c.SemanticWeight + c.RecencyWeight + c.FrequencyWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("ranking weights must sum to 1.0, got %f", sum)
	}
	return nil
}

// TemporalWindow returns the link window as a duration.
func (c *Config) TemporalWindow() time.Duration {
	return time.Duration(c.TemporalWindowHours) * time.Hour
}

// QueryTimeout returns the per-query deadline as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
