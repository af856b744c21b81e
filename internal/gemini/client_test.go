package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gemchat/internal/config"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		GeminiAPIKey:  "test-key",
		GeminiModel:   "gemini-2.0-flash",
		GeminiBaseURL: baseURL,
	}
}

func TestStreamGenerateContentStreamsDeltas(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:streamGenerateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("alt"); got != "sse" {
			t.Fatalf("expected alt=sse query, got %q", got)
		}
		if got := r.Header.Get("X-Goog-Api-Key"); got != "test-key" {
			t.Fatalf("unexpected api key header: %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		rawBody := string(body)
		if !strings.Contains(rawBody, `"role":"user"`) {
			t.Fatalf("request body missing user role: %s", rawBody)
		}
		if !strings.Contains(rawBody, `"role":"model"`) {
			t.Fatalf("expected assistant history mapped to model role: %s", rawBody)
		}
		if strings.Contains(rawBody, `"role":"assistant"`) {
			t.Fatalf("assistant role leaked into provider request: %s", rawBody)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello\"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" world\"}]},\"finishReason\":\"STOP\"}]}\n\n"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	var out strings.Builder
	err := client.StreamGenerateContent(
		context.Background(),
		[]Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		},
		func(delta string) error {
			out.WriteString(delta)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("stream generate content: %v", err)
	}

	if got := out.String(); got != "Hello world" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestStreamGenerateContentReturnsMissingKeyError(t *testing.T) {
	t.Parallel()

	client := NewClient(config.Config{
		GeminiModel:   "gemini-2.0-flash",
		GeminiBaseURL: "https://generativelanguage.googleapis.com",
	}, http.DefaultClient)

	err := client.StreamGenerateContent(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestStreamGenerateContentClassifiesQuotaError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	err := client.StreamGenerateContent(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)

	var providerErr *Error
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if providerErr.Category != CategoryQuota {
		t.Fatalf("expected quota category, got %q", providerErr.Category)
	}
}

func TestStreamGenerateContentClassifiesAuthError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	err := client.StreamGenerateContent(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)

	var providerErr *Error
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	// No usable structured status; the substring fallback should land
	// on auth via "API key".
	if providerErr.Category != CategoryAuth {
		t.Fatalf("expected auth category, got %q", providerErr.Category)
	}
}

func TestStreamGenerateContentMidStreamErrorMarker(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"partial\"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"error\":{\"code\":503,\"message\":\"The service is currently unavailable\",\"status\":\"UNAVAILABLE\"}}\n\n"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	var out strings.Builder
	err := client.StreamGenerateContent(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(delta string) error {
		out.WriteString(delta)
		return nil
	})

	var providerErr *Error
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if providerErr.Category != CategoryNetwork {
		t.Fatalf("expected network category, got %q", providerErr.Category)
	}
	if out.String() != "partial" {
		t.Fatalf("expected fragments before the error to be delivered, got %q", out.String())
	}
}

func TestStreamGenerateContentSafetyFinishIsContentPolicy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"SAFETY\"}]}\n\n"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	err := client.StreamGenerateContent(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)

	var providerErr *Error
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if providerErr.Category != CategoryContentPolicy {
		t.Fatalf("expected content-policy category, got %q", providerErr.Category)
	}
}

func TestStreamGenerateContentOnDeltaErrorStopsStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"one\"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"two\"}]}}]}\n\n"))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	sentinel := errors.New("client went away")
	err := client.StreamGenerateContent(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(string) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestClassifyStatusPrefersStructuredOverSubstrings(t *testing.T) {
	t.Parallel()

	// Message mentions quota but the structured status says auth.
	if got := classify("PERMISSION_DENIED", 403, "quota something"); got != CategoryAuth {
		t.Fatalf("expected auth category, got %q", got)
	}
	if got := classify("", 500, "connection reset by peer"); got != CategoryNetwork {
		t.Fatalf("expected network category from fallback, got %q", got)
	}
	if got := classify("", 500, "something odd"); got != CategoryProvider {
		t.Fatalf("expected provider category, got %q", got)
	}
}
