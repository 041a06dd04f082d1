package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings, populated from environment variables.
// Optional integrations (bloom, kafka, CRM, export) stay disabled when their
// settings are absent.
type Config struct {
	// HTTP server
	Port string

	// Duplicate detection tuning
	SimilarityThreshold float32
	MaxSimilarLeads     int
	BusinessType        string

	// Chroma vector index
	ChromaHost       string
	ChromaPort       int
	ChromaCollection string

	// Embeddings: "cohere" or "openai" (the latter covers Ollama's /v1 API)
	EmbeddingProvider string
	EmbeddingModel    string
	CohereAPIKey      string
	OpenAIAPIKey      string
	OpenAIBaseURL     string

	// Enrichment chat model; empty LLMModel disables enrichment
	LLMModel   string
	LLMBaseURL string
	LLMAPIKey  string

	// Lead store
	StorePath string

	// Redis bloom fast path; empty RedisAddr disables it
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BloomKey      string
	BloomTTL      time.Duration

	// Kafka intake; empty KafkaBrokers disables it
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Airtable CRM sync; empty AirtableAPIKey disables it
	AirtableAPIKey  string
	AirtableBaseID  string
	AirtableTable   string

	// S3 export; empty ExportBucket disables it
	ExportBucket string
	ExportPrefix string
	AWSRegion    string
	AWSProfile   string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		SimilarityThreshold: float32(getEnvFloat("LEAD_SIMILARITY_THRESHOLD", 0.7)),
		MaxSimilarLeads:     getEnvInt("MAX_SIMILAR_LEADS", 10),
		BusinessType:        getEnv("BUSINESS_TYPE", "general"),

		ChromaHost:       getEnv("CHROMA_HOST", "localhost"),
		ChromaPort:       getEnvInt("CHROMA_PORT", 8000),
		ChromaCollection: getEnv("CHROMA_COLLECTION", "basecamp_leads"),

		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "cohere"),
		EmbeddingModel:    os.Getenv("EMBEDDING_MODEL"),
		CohereAPIKey:      os.Getenv("COHERE_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),

		LLMModel:   os.Getenv("LLM_MODEL"),
		LLMBaseURL: os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),

		StorePath: getEnv("LEAD_STORE_PATH", "leads.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		BloomKey:      getEnv("BLOOM_KEY", "leads:bloom"),
		BloomTTL:      getEnvDuration("BLOOM_TTL", 24*time.Hour),

		KafkaTopic:   getEnv("KAFKA_TOPIC", "lead-intake"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "basecamp-intake"),

		AirtableAPIKey: os.Getenv("AIRTABLE_API_KEY"),
		AirtableBaseID: os.Getenv("AIRTABLE_BASE_ID"),
		AirtableTable:  getEnv("AIRTABLE_TABLE", "Leads"),

		ExportBucket: os.Getenv("EXPORT_BUCKET"),
		ExportPrefix: getEnv("EXPORT_PREFIX", "exports/"),
		AWSRegion:    os.Getenv("AWS_REGION"),
		AWSProfile:   os.Getenv("AWS_PROFILE"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("LEAD_SIMILARITY_THRESHOLD must be between 0 and 1, got %v", cfg.SimilarityThreshold)
	}
	if cfg.MaxSimilarLeads <= 0 {
		return nil, fmt.Errorf("MAX_SIMILAR_LEADS must be positive, got %d", cfg.MaxSimilarLeads)
	}
	switch cfg.EmbeddingProvider {
	case "cohere":
		if cfg.CohereAPIKey == "" {
			return nil, fmt.Errorf("COHERE_API_KEY is required when EMBEDDING_PROVIDER is cohere")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required when EMBEDDING_PROVIDER is openai")
		}
	default:
		return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", cfg.EmbeddingProvider)
	}
	if cfg.AirtableAPIKey != "" && cfg.AirtableBaseID == "" {
		return nil, fmt.Errorf("AIRTABLE_BASE_ID is required when AIRTABLE_API_KEY is set")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
