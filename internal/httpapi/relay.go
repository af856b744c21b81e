package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"gemchat/internal/gemini"
	"gemchat/internal/store"
	"gemchat/internal/titles"

	"github.com/go-chi/chi/v5"
)

type chatMessageRequest struct {
	Message   string `json:"message"`
	AutoTitle bool   `json:"autoTitle"`
}

// ChatMessages appends the caller's message to a chat and relays the
// model's reply as server-sent events. Exactly one assistant message is
// persisted per successful completion; a failed stream persists nothing
// beyond the user's own message.
func (h Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}
	if h.cfg.GeminiAPIKey == "" {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "model provider is not configured")
		return
	}

	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	if _, err := h.store.GetChat(r.Context(), chatID, ident.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read chat")
		return
	}

	existing, err := h.store.ListMessages(r.Context(), chatID, ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read messages")
		return
	}

	if _, err := h.store.AppendMessage(r.Context(), chatID, ident.UserID, store.RoleUser, req.Message); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to store message")
		return
	}

	// Title derivation happens on the first message only; renaming later
	// is an explicit user action.
	if req.AutoTitle && len(existing) == 0 {
		if err := h.store.RenameChat(r.Context(), chatID, ident.UserID, titles.Generate(req.Message)); err != nil {
			h.logger.Error().Err(err).Str("chatId", chatID).Msg("auto-title chat")
		}
	}

	history := make([]gemini.Message, 0, len(existing)+1)
	for _, message := range existing {
		history = append(history, gemini.Message{Role: message.Role, Content: message.Content})
	}
	history = append(history, gemini.Message{Role: store.RoleUser, Content: req.Message})

	h.streamCompletion(w, r, history, func(ctx context.Context, full string) error {
		_, err := h.store.AppendMessage(ctx, chatID, ident.UserID, store.RoleAssistant, full)
		return err
	})
}

type statelessChatRequest struct {
	Messages []gemini.Message `json:"messages"`
}

// Chat relays a completion for a caller-supplied history without
// touching the store. Works even when no backend is configured.
func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if _, ok := identityFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated identity")
		return
	}
	if h.cfg.GeminiAPIKey == "" {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "model provider is not configured")
		return
	}

	var req statelessChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages are required")
		return
	}
	for _, message := range req.Messages {
		if message.Role != store.RoleUser && message.Role != store.RoleAssistant {
			writeError(w, http.StatusBadRequest, "invalid_request", "role must be user or assistant")
			return
		}
		if message.Content == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "message content is required")
			return
		}
	}

	h.streamCompletion(w, r, req.Messages, nil)
}

// streamCompletion opens the event stream, relays model output in small
// sub-fragments, and finishes with exactly one terminal event: done or
// error. persist, when non-nil, runs after a successful stream with the
// accumulated assistant text; its failure is logged and counted but
// never retracts content the client already saw.
func (h Handler) streamCompletion(w http.ResponseWriter, r *http.Request, history []gemini.Message, persist func(context.Context, string) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	started := time.Now()
	h.metrics.RecordStreamStarted()

	var full strings.Builder
	streamErr := h.streamer.StreamGenerateContent(r.Context(), history, func(delta string) error {
		full.WriteString(delta)
		return h.relayDelta(r.Context(), w, flusher, delta)
	})

	if streamErr != nil {
		category, message := describeStreamError(streamErr)
		h.metrics.RecordStreamFailed(category)

		if r.Context().Err() != nil {
			// Client went away; nobody is reading the stream anymore.
			h.logger.Debug().Err(streamErr).Msg("stream abandoned by client")
			return
		}

		h.logger.Error().Err(streamErr).Str("category", category).Msg("completion stream failed")
		_ = writeSSEData(w, map[string]string{"error": message})
		flusher.Flush()
		return
	}

	if persist != nil {
		// Persistence uses a fresh context so a client disconnect right
		// after the last fragment cannot lose the assistant message.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := persist(ctx, full.String()); err != nil {
			h.logger.Error().Err(err).Msg("persist assistant message")
			h.metrics.RecordPersistenceFailure()
		} else {
			h.metrics.RecordMessagePersisted()
		}
	}

	_ = writeSSEData(w, map[string]bool{"done": true})
	flusher.Flush()
	h.metrics.RecordStreamCompleted(time.Since(started))
}

// relayDelta re-chunks one provider fragment into fixed-size rune
// groups with a short pause between them, which keeps the client-side
// rendering smooth even when the provider sends large fragments.
func (h Handler) relayDelta(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, delta string) error {
	size := h.cfg.StreamChunkChars
	if size <= 0 {
		size = 1
	}

	runes := []rune(delta)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		if err := writeSSEData(w, map[string]string{"content": string(runes[start:end])}); err != nil {
			return err
		}
		flusher.Flush()

		if h.cfg.StreamChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.cfg.StreamChunkDelay):
			}
		}
	}
	return nil
}

// describeStreamError maps a stream failure onto a metrics category and
// a client-safe message. Raw provider errors never reach the wire.
func describeStreamError(err error) (category, message string) {
	if errors.Is(err, gemini.ErrMissingAPIKey) {
		return "config", "model provider is not configured"
	}

	var providerErr *gemini.Error
	if errors.As(err, &providerErr) {
		switch providerErr.Category {
		case gemini.CategoryAuth:
			return string(providerErr.Category), "model provider rejected the configured credentials"
		case gemini.CategoryQuota:
			return string(providerErr.Category), "model provider quota exceeded, try again later"
		case gemini.CategoryContentPolicy:
			return string(providerErr.Category), "the response was blocked by the provider's content policy"
		case gemini.CategoryNetwork:
			return string(providerErr.Category), "could not reach the model provider"
		default:
			return string(providerErr.Category), "the model provider returned an error"
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled", "the request was canceled"
	}
	return "unknown", "the completion failed unexpectedly"
}
