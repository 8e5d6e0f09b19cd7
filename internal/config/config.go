package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const (
	GeneratorOllama = "ollama"
	GeneratorOpenAI = "openai"

	KeywordBleve        = "bleve"
	KeywordQdrantSparse = "qdrant_sparse"
)

type Config struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	APIPort         string
	LogLevel        string
	ShutdownTimeout time.Duration

	HTTPMaxInFlight  int
	HTTPOverloadWait time.Duration
	HTTPMaxBodyBytes int64

	PostgresDSN      string
	TenantConfigFile string

	NATSURL           string
	NATSSubjectPrefix string

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string

	GeneratorBackend  string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float64

	QdrantURL        string
	QdrantAPIKey     string
	QdrantDenseName  string
	QdrantSparseName string

	KeywordBackend string
	BleveIndexPath string

	RerankerURL   string
	RerankerModel string

	TokenizerEncoding string
	EmbedCacheSize    int

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	BreakerEnabled      bool
	BreakerOpenTimeout  time.Duration
	UpstreamRateLimit   float64
	UpstreamRateBurst   int

	TracingEnabled     bool
	OTLPEndpoint       string
	TracingSampleRatio float64

	Guardrail domain.GuardrailConfig
	Timeouts  domain.TimeoutConfig
	Search    domain.SearchConfig
}

func Load() Config {
	return Config{
		ServiceName:     mustEnv("SERVICE_NAME", "grounded-rag"),
		ServiceVersion:  mustEnv("SERVICE_VERSION", "dev"),
		Environment:     mustEnv("ENVIRONMENT", "local"),
		APIPort:         mustEnv("API_PORT", "8080"),
		LogLevel:        mustEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: mustEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		HTTPMaxInFlight:  mustEnvInt("HTTP_MAX_IN_FLIGHT", 64),
		HTTPOverloadWait: mustEnvDuration("HTTP_OVERLOAD_WAIT", 250*time.Millisecond),
		HTTPMaxBodyBytes: int64(mustEnvInt("HTTP_MAX_BODY_BYTES", 1<<20)),

		PostgresDSN:      mustEnv("POSTGRES_DSN", ""),
		TenantConfigFile: mustEnv("TENANT_CONFIG_FILE", ""),

		NATSURL:           mustEnv("NATS_URL", ""),
		NATSSubjectPrefix: mustEnv("NATS_AUDIT_SUBJECT_PREFIX", "guardrail.audit"),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		GeneratorBackend:  strings.ToLower(mustEnv("GENERATOR_BACKEND", GeneratorOllama)),
		OpenAIAPIKey:      mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     mustEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:       mustEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIMaxTokens:   mustEnvInt("OPENAI_MAX_TOKENS", 1024),
		OpenAITemperature: mustEnvFloat("OPENAI_TEMPERATURE", 0.1),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     mustEnv("QDRANT_API_KEY", ""),
		QdrantDenseName:  mustEnv("QDRANT_DENSE_VECTOR", ""),
		QdrantSparseName: mustEnv("QDRANT_SPARSE_VECTOR", "sparse"),

		KeywordBackend: strings.ToLower(mustEnv("KEYWORD_BACKEND", KeywordQdrantSparse)),
		BleveIndexPath: mustEnv("BLEVE_INDEX_PATH", "./data/bleve"),

		RerankerURL:   mustEnv("RERANKER_URL", ""),
		RerankerModel: mustEnv("RERANKER_MODEL", "bge-reranker-v2-m3"),

		TokenizerEncoding: mustEnv("TOKENIZER_ENCODING", "cl100k_base"),
		EmbedCacheSize:    mustEnvInt("EMBED_CACHE_SIZE", 4096),

		RetryMaxAttempts:    mustEnvInt("UPSTREAM_RETRY_MAX_ATTEMPTS", 2),
		RetryInitialBackoff: mustEnvDuration("UPSTREAM_RETRY_INITIAL_BACKOFF", 50*time.Millisecond),
		RetryMaxBackoff:     mustEnvDuration("UPSTREAM_RETRY_MAX_BACKOFF", 200*time.Millisecond),
		BreakerEnabled:      mustEnvBool("UPSTREAM_BREAKER_ENABLED", true),
		BreakerOpenTimeout:  mustEnvDuration("UPSTREAM_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		UpstreamRateLimit:   mustEnvFloat("UPSTREAM_RATE_LIMIT_RPS", 0),
		UpstreamRateBurst:   mustEnvInt("UPSTREAM_RATE_LIMIT_BURST", 0),

		TracingEnabled:     mustEnvBool("OTEL_ENABLED", false),
		OTLPEndpoint:       mustEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		TracingSampleRatio: mustEnvFloat("OTEL_SAMPLE_RATIO", 1.0),

		Guardrail: loadGuardrail(),
		Timeouts:  loadTimeouts(),
		Search:    loadSearch(),
	}
}

func loadGuardrail() domain.GuardrailConfig {
	cfg := domain.DefaultGuardrailConfig()
	cfg.Profile = domain.ThresholdProfile(strings.ToLower(mustEnv("GUARDRAIL_PROFILE", string(cfg.Profile))))
	cfg.CustomConfidence = mustEnvFloat("GUARDRAIL_CUSTOM_CONFIDENCE", cfg.CustomConfidence)
	cfg.SuggestionLimit = mustEnvInt("GUARDRAIL_SUGGESTION_LIMIT", cfg.SuggestionLimit)
	cfg.SuggestionCutoff = mustEnvFloat("GUARDRAIL_SUGGESTION_CUTOFF", cfg.SuggestionCutoff)
	return cfg
}

func loadTimeouts() domain.TimeoutConfig {
	def := domain.DefaultTimeoutConfig()
	return domain.TimeoutConfig{
		VectorSearch:    mustEnvDuration("TIMEOUT_VECTOR_SEARCH", def.VectorSearch),
		KeywordSearch:   mustEnvDuration("TIMEOUT_KEYWORD_SEARCH", def.KeywordSearch),
		Reranker:        mustEnvDuration("TIMEOUT_RERANKER", def.Reranker),
		Embedding:       mustEnvDuration("TIMEOUT_EMBEDDING", def.Embedding),
		LLM:             mustEnvDuration("TIMEOUT_LLM", def.LLM),
		Overall:         mustEnvDuration("TIMEOUT_OVERALL", def.Overall),
		FallbackEnabled: mustEnvBool("TIMEOUT_FALLBACK_ENABLED", def.FallbackEnabled),
	}
}

func loadSearch() domain.SearchConfig {
	def := domain.DefaultSearchConfig()
	cfg := domain.SearchConfig{
		VectorCollection:   mustEnv("QDRANT_COLLECTION", def.VectorCollection),
		KeywordCollection:  mustEnv("KEYWORD_COLLECTION", def.KeywordCollection),
		RRFK:               mustEnvInt("RAG_FUSION_RRF_K", def.RRFK),
		RerankEnabled:      mustEnvBool("RAG_RERANK_ENABLED", def.RerankEnabled),
		RerankTopK:         mustEnvInt("RAG_RERANK_TOP_K", def.RerankTopK),
		RerankBatchSize:    mustEnvInt("RAG_RERANK_BATCH_SIZE", def.RerankBatchSize),
		MaxContextResults:  mustEnvInt("RAG_MAX_CONTEXT_RESULTS", def.MaxContextResults),
		MaxContextTokens:   mustEnvInt("RAG_MAX_CONTEXT_TOKENS", def.MaxContextTokens),
		TokenSafetyMargin:  mustEnvInt("RAG_TOKEN_SAFETY_MARGIN", def.TokenSafetyMargin),
		MMRAlpha:           mustEnvFloat("RAG_MMR_ALPHA", def.MMRAlpha),
		AnswerabilityBonus: mustEnvFloat("RAG_ANSWERABILITY_BONUS", def.AnswerabilityBonus),
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = def.MaxContextTokens
	}
	if cfg.TokenSafetyMargin >= cfg.MaxContextTokens {
		cfg.TokenSafetyMargin = min(def.TokenSafetyMargin, cfg.MaxContextTokens/2)
	}
	return cfg
}

func mustEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go duration strings and bare integers as seconds.
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
