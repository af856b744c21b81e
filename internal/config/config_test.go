package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:local.db")

	unsetIfSet(t, "CHAT_DB_BACKEND")
	unsetIfSet(t, "CORS_ALLOWED_ORIGINS")
	unsetIfSet(t, "STREAM_CHUNK_CHARS")
	unsetIfSet(t, "STREAM_CHUNK_DELAY_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.StoreBackend != BackendSQLite {
		t.Fatalf("expected default sqlite backend, got %q", cfg.StoreBackend)
	}

	if cfg.GeminiModel != "gemini-2.0-flash" {
		t.Fatalf("unexpected default model: %s", cfg.GeminiModel)
	}

	if cfg.GeminiBaseURL != "https://generativelanguage.googleapis.com" {
		t.Fatalf("unexpected gemini base url: %s", cfg.GeminiBaseURL)
	}

	if cfg.TrustedEmailHeader != "Cf-Access-Authenticated-User-Email" {
		t.Fatalf("unexpected trusted email header: %s", cfg.TrustedEmailHeader)
	}

	if cfg.StreamChunkChars != 3 {
		t.Fatalf("expected default chunk size 3, got %d", cfg.StreamChunkChars)
	}

	if cfg.StreamChunkDelay != 30*time.Millisecond {
		t.Fatalf("expected default chunk delay 30ms, got %v", cfg.StreamChunkDelay)
	}
}

func TestLoadRequiresDatabaseURLForSQLiteBackend(t *testing.T) {
	t.Setenv("CHAT_DB_BACKEND", "sqlite")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadRequiresAuthTokenForLibsqlURL(t *testing.T) {
	t.Setenv("CHAT_DB_BACKEND", "sqlite")
	t.Setenv("DATABASE_URL", "libsql://chat.example.turso.io")
	t.Setenv("DATABASE_AUTH_TOKEN", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_AUTH_TOKEN is missing for libsql URL")
	}
}

func TestLoadRequiresBadgerPathForBadgerBackend(t *testing.T) {
	t.Setenv("CHAT_DB_BACKEND", "badger")
	t.Setenv("BADGER_PATH", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BADGER_PATH is missing")
	}
}

func TestLoadAllowsNoneBackendWithoutDatabase(t *testing.T) {
	t.Setenv("CHAT_DB_BACKEND", "none")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BADGER_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected none backend to load without database config: %v", err)
	}
	if cfg.StoreBackend != BackendNone {
		t.Fatalf("expected none backend, got %q", cfg.StoreBackend)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CHAT_DB_BACKEND", "dynamo")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func unsetIfSet(t *testing.T, key string) {
	t.Helper()
	if _, ok := os.LookupEnv(key); ok {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset env %s: %v", key, err)
		}
	}
}
