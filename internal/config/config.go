// Package config loads and validates engine configuration from environment
// variables into a single immutable snapshot captured once at startup.
// Runtime code consults the snapshot, never the environment directly.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Auth settings.
	JWTSecret string // HS256 symmetric secret (SUPABASE_JWT_SECRET). Empty allowed outside production.
	DevMode   bool   // When true and JWTSecret is empty, requests bypass auth as subject "dev-user".

	// Antibody store (Postgres/pgvector, optionally Qdrant-accelerated).
	DatabaseURL      string
	SupabaseURL      string
	SupabaseRoleKey  string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Embedding + generation providers.
	OllamaBaseURL    string
	DefaultLocalModel string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	EmbeddingModel   string // cloud embedding model name (small-embed).
	EmbeddingDims    int

	// Audit webhook.
	AuditWebhookURL string

	// Logit hypervisor.
	ModelPath string // filesystem path to a logit-accessible model; empty disables /generate/absolute_truth.

	// Strict production mode: requires cloud key AND JWT secret, else startup aborts.
	Render bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64

	// Component tunables. VectorSkipThreshold, CacheCapacity and
	// EmbedMemoCapacity are passed to their components at startup. The other
	// five are parsed and validated but no component reads them: the
	// bicameral streamer and shadow auditor use their own fixed thresholds,
	// and no Hypervisor is constructed from config.
	VectorSkipThreshold  float64
	CacheCapacity        int
	EmbedMemoCapacity    int
	AntibodyMatchThresh  float64
	AntibodyMatchCount   int
	HypervisorVetoBias   float32
	HypervisorBoostBias  float32
	ShadowAuditThreshold float64
}

// Load reads configuration from environment variables with sensible
// defaults. Returns an error if any environment variable contains an
// unparseable value, or if Validate rejects the result.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		JWTSecret:         envStr("SUPABASE_JWT_SECRET", ""),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		SupabaseURL:       envStr("NEXT_PUBLIC_SUPABASE_URL", ""),
		SupabaseRoleKey:   envStr("SUPABASE_SERVICE_ROLE_KEY", ""),
		QdrantURL:         envStr("QDRANT_URL", ""),
		QdrantAPIKey:      envStr("QDRANT_API_KEY", ""),
		QdrantCollection:  envStr("QDRANT_COLLECTION", "antibodies"),
		OllamaBaseURL:     envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		DefaultLocalModel: envStr("DEFAULT_LOCAL_MODEL", "phi3:mini"),
		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:  envStr("OPENROUTER_API_KEY", ""),
		EmbeddingModel:    envStr("ENGINE_EMBEDDING_MODEL", "text-embedding-3-small"),
		AuditWebhookURL:   envStr("AUDIT_WEBHOOK_URL", ""),
		ModelPath:         envStr("MODEL_PATH", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "axiomguard"),
		LogLevel:          envStr("ENGINE_LOG_LEVEL", "info"),
	}

	cfg.Render, errs = collectBool(errs, "RENDER", false)
	cfg.DevMode = !cfg.Render

	cfg.Port, errs = collectInt(errs, "PORT", 8080)
	cfg.EmbeddingDims, errs = collectInt(errs, "ENGINE_EMBEDDING_DIMENSIONS", 1536)
	cfg.CacheCapacity, errs = collectInt(errs, "ENGINE_CACHE_CAPACITY", 1000)
	cfg.EmbedMemoCapacity, errs = collectInt(errs, "ENGINE_EMBED_MEMO_CAPACITY", 10000)
	cfg.AntibodyMatchCount, errs = collectInt(errs, "ENGINE_ANTIBODY_MATCH_COUNT", 2)

	var maxReqBody int
	maxReqBody, errs = collectInt(errs, "ENGINE_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	cfg.MaxRequestBodyBytes = int64(maxReqBody)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	cfg.ReadTimeout, errs = collectDuration(errs, "ENGINE_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "ENGINE_WRITE_TIMEOUT", 30*time.Second)

	cfg.VectorSkipThreshold, errs = collectFloat(errs, "ENGINE_VECTOR_SKIP_THRESHOLD", 0.96)
	cfg.AntibodyMatchThresh, errs = collectFloat(errs, "ENGINE_ANTIBODY_MATCH_THRESHOLD", 0.5)
	cfg.ShadowAuditThreshold, errs = collectFloat(errs, "ENGINE_SHADOW_AUDIT_THRESHOLD", 0.2)

	var veto, boost float64
	veto, errs = collectFloat(errs, "ENGINE_HYPERVISOR_VETO_BIAS", -1e4)
	boost, errs = collectFloat(errs, "ENGINE_HYPERVISOR_BOOST_BIAS", 4.0)
	cfg.HypervisorVetoBias = float32(veto)
	cfg.HypervisorBoostBias = float32(boost)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CloudEnabled reports whether a cloud embedding/generation key is
// configured. Mode selection (cloud vs local) is made once at init from this
// value and is read-only thereafter.
func (c Config) CloudEnabled() bool {
	return c.OpenAIAPIKey != "" || c.OpenRouterAPIKey != ""
}

// UseOpenRouter reports whether OpenRouter should be used over plain OpenAI.
// OpenRouter wins ties per §6.
func (c Config) UseOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}

// PostgresDSN resolves the Postgres connection string for the antibody
// store. DATABASE_URL wins when set (the direct, idiomatic path for a pgx
// client). When only the Supabase REST coordinates are provided, a
// self-hosted-Supabase-style DSN is derived (user "postgres", port 5432,
// db "postgres", password the service role key) since pgx speaks the
// Postgres wire protocol, not PostgREST.
func (c Config) PostgresDSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	if c.SupabaseURL == "" || c.SupabaseRoleKey == "" {
		return "", fmt.Errorf("config: no antibody store configured (set DATABASE_URL or NEXT_PUBLIC_SUPABASE_URL + SUPABASE_SERVICE_ROLE_KEY)")
	}
	u, err := url.Parse(c.SupabaseURL)
	if err != nil {
		return "", fmt.Errorf("config: parse NEXT_PUBLIC_SUPABASE_URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("config: NEXT_PUBLIC_SUPABASE_URL has no host")
	}
	return fmt.Sprintf("postgres://postgres:%s@%s:5432/postgres?sslmode=require", url.QueryEscape(c.SupabaseRoleKey), host), nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectFloat parses a float env var, appending any error to the accumulator.
func collectFloat(errs []error, key string, fallback float64) (float64, []error) {
	v, err := envFloat(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: PORT must be between 1 and 65535"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: ENGINE_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: ENGINE_WRITE_TIMEOUT must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("config: ENGINE_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.EmbeddingDims <= 0 {
		errs = append(errs, errors.New("config: ENGINE_EMBEDDING_DIMENSIONS must be positive"))
	}

	// RENDER=true enables strict production checks: cloud key AND JWT secret
	// mandatory, else abort startup.
	if c.Render {
		if !c.CloudEnabled() {
			errs = append(errs, errors.New("config: RENDER=true requires OPENAI_API_KEY or OPENROUTER_API_KEY"))
		}
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("config: RENDER=true requires SUPABASE_JWT_SECRET"))
		}
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}
