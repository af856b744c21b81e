package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort               = "8080"
	defaultFrontendOrigin     = "http://localhost:5173"
	defaultTrustedEmailHeader = "Cf-Access-Authenticated-User-Email"
	defaultGeminiModel        = "gemini-2.0-flash"
	defaultGeminiBaseURL      = "https://generativelanguage.googleapis.com"
	defaultStreamChunkChars   = 3
	defaultStreamChunkDelayMS = 30
	defaultRateLimitRPM       = 60
)

// Backend selects which conversation store implementation is active.
// Chosen once at process start; handlers never probe for a database at
// request time.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBadger Backend = "badger"
	BackendNone   Backend = "none"
)

type Config struct {
	Port               string
	Environment        string
	FrontendOrigin     string
	AllowedOrigins     []string
	TrustedEmailHeader string
	DevMode            bool
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	StoreBackend       Backend
	DatabaseURL        string
	DatabaseAuthToken  string
	BadgerPath         string
	StreamChunkChars   int
	StreamChunkDelay   time.Duration
	RateLimitRPM       int
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:               envOrDefault("PORT", defaultPort),
		Environment:        envOrDefault("APP_ENV", "development"),
		FrontendOrigin:     envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),
		TrustedEmailHeader: envOrDefault("AUTH_TRUSTED_EMAIL_HEADER", defaultTrustedEmailHeader),
		DevMode:            boolOrDefault("AUTH_DEV_MODE", false),
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:        envOrDefault("GEMINI_MODEL", defaultGeminiModel),
		GeminiBaseURL:      envOrDefault("GEMINI_BASE_URL", defaultGeminiBaseURL),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseAuthToken:  strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		BadgerPath:         strings.TrimSpace(os.Getenv("BADGER_PATH")),
		StreamChunkChars:   intOrDefault("STREAM_CHUNK_CHARS", defaultStreamChunkChars),
		RateLimitRPM:       intOrDefault("RATE_LIMIT_RPM", defaultRateLimitRPM),
	}

	delayMS := intOrDefault("STREAM_CHUNK_DELAY_MS", defaultStreamChunkDelayMS)
	if delayMS < 0 {
		delayMS = 0
	}
	cfg.StreamChunkDelay = time.Duration(delayMS) * time.Millisecond

	if cfg.StreamChunkChars <= 0 {
		cfg.StreamChunkChars = defaultStreamChunkChars
	}

	backend, err := parseBackend(envOrDefault("CHAT_DB_BACKEND", string(BackendSQLite)))
	if err != nil {
		return Config{}, err
	}
	cfg.StoreBackend = backend

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	switch cfg.StoreBackend {
	case BackendSQLite:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required when CHAT_DB_BACKEND=sqlite")
		}
		if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
			return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
		}
	case BackendBadger:
		if cfg.BadgerPath == "" {
			return Config{}, errors.New("BADGER_PATH is required when CHAT_DB_BACKEND=badger")
		}
	}

	return cfg, nil
}

func parseBackend(raw string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(raw))) {
	case BackendSQLite:
		return BackendSQLite, nil
	case BackendBadger:
		return BackendBadger, nil
	case BackendNone, "":
		return BackendNone, nil
	default:
		return "", fmt.Errorf("CHAT_DB_BACKEND must be one of sqlite, badger, none; got %q", raw)
	}
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
