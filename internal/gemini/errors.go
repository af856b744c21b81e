package gemini

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAPIKey is returned before any network call when no
// credential is configured. Callers surface it as a terminal,
// non-retryable condition.
var ErrMissingAPIKey = errors.New("gemini api key is not configured")

type Category string

const (
	CategoryAuth          Category = "auth"
	CategoryQuota         Category = "quota"
	CategoryContentPolicy Category = "content-policy"
	CategoryNetwork       Category = "network"
	CategoryProvider      Category = "provider"
)

// Error is an upstream model failure with a coarse category derived from
// the provider's structured status where available.
type Error struct {
	Category Category
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gemini %s error: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("gemini %s error: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Cause: cause}
}

// classifyStatus maps the structured google.rpc status string and HTTP
// code onto a category. Preferred over message sniffing.
func classifyStatus(status string, httpCode int) (Category, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return CategoryAuth, true
	case "RESOURCE_EXHAUSTED":
		return CategoryQuota, true
	case "UNAVAILABLE", "DEADLINE_EXCEEDED":
		return CategoryNetwork, true
	}

	switch httpCode {
	case 401, 403:
		return CategoryAuth, true
	case 429:
		return CategoryQuota, true
	case 502, 503, 504:
		return CategoryNetwork, true
	}

	return CategoryProvider, false
}

// classifyMessage is the substring fallback for responses that carry no
// structured status. Fragile on purpose and kept in one place so it can
// be swapped without touching call sites.
func classifyMessage(message string) Category {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "api key") || strings.Contains(lowered, "unauthorized") || strings.Contains(lowered, "permission"):
		return CategoryAuth
	case strings.Contains(lowered, "quota") || strings.Contains(lowered, "rate limit") || strings.Contains(lowered, "exhausted"):
		return CategoryQuota
	case strings.Contains(lowered, "safety") || strings.Contains(lowered, "blocked") || strings.Contains(lowered, "prohibited"):
		return CategoryContentPolicy
	case strings.Contains(lowered, "timeout") || strings.Contains(lowered, "connection") || strings.Contains(lowered, "unavailable"):
		return CategoryNetwork
	default:
		return CategoryProvider
	}
}

func classify(status string, httpCode int, message string) Category {
	if category, ok := classifyStatus(status, httpCode); ok {
		return category
	}
	return classifyMessage(message)
}
