package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"gemchat/internal/config"
	"gemchat/internal/gemini"
	"gemchat/internal/identity"
	"gemchat/internal/metrics"
	"gemchat/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// completionStreamer is the slice of the model client the handlers use.
// Tests substitute a stub.
type completionStreamer interface {
	StreamGenerateContent(ctx context.Context, history []gemini.Message, onDelta func(string) error) error
}

type Handler struct {
	cfg      config.Config
	logger   zerolog.Logger
	store    store.Store
	streamer completionStreamer
	metrics  metrics.Recorder
	resolver identity.Resolver
}

// NewHandler wires the HTTP surface. store may be nil when no backend is
// configured; persisted endpoints then answer 503 not_configured.
func NewHandler(cfg config.Config, logger zerolog.Logger, st store.Store, streamer completionStreamer, recorder metrics.Recorder) Handler {
	return Handler{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		streamer: streamer,
		metrics:  recorder,
		resolver: identity.NewResolver(cfg),
	}
}

type contextKey string

const identityContextKey contextKey = "identity"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated identity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": ident})
}

type devLoginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// DevLogin mints an identity from a posted email. Only available when
// dev mode is on; production traffic authenticates via the trusted
// proxy header instead.
func (h Handler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.DevMode {
		writeError(w, http.StatusForbidden, "dev_mode_disabled", "dev login is disabled")
		return
	}

	var req devLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	ident := identity.FromEmail(req.Email, req.Name)
	if h.store != nil {
		if _, err := h.store.UpsertUser(r.Context(), ident.UserID, ident.Email, ident.Name); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to upsert user")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": ident})
}

func (h Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}

	chats, err := h.store.ListChats(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (h Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}

	var req createChatRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	chat, err := h.store.CreateChat(r.Context(), ident.UserID, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat": chat})
}

func (h Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}

	chatID := chi.URLParam(r, "chatID")
	chat, err := h.store.GetChat(r.Context(), chatID, ident.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read chat")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), chatID, ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "messages": messages})
}

type renameChatRequest struct {
	Title string `json:"title"`
}

func (h Handler) RenameChat(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}

	var req renameChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	err := h.store.RenameChat(r.Context(), chi.URLParam(r, "chatID"), ident.UserID, req.Title)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to rename chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteChat(r.Context(), chi.URLParam(r, "chatID"), ident.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h Handler) DeleteAllChats(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.requireStore(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteAllChats(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

// RequireIdentity resolves the caller from request headers and rejects
// anonymous requests. The user row is upserted lazily, so the first
// authenticated request creates it.
func (h Handler) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := h.resolver.Resolve(r.Header)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity headers")
			return
		}

		if h.store != nil {
			if _, err := h.store.UpsertUser(r.Context(), ident.UserID, ident.Email, ident.Name); err != nil {
				h.logger.Error().Err(err).Str("userId", ident.UserID).Msg("upsert user")
				writeError(w, http.StatusInternalServerError, "db_error", "failed to upsert user")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey, ident)))
	})
}

// requireStore pulls the identity from context and rejects the request
// when no conversation store is configured.
func (h Handler) requireStore(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated identity")
		return identity.Identity{}, false
	}
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "no conversation store is configured")
		return identity.Identity{}, false
	}
	return ident, true
}

func identityFromContext(ctx context.Context) (identity.Identity, bool) {
	value := ctx.Value(identityContextKey)
	if value == nil {
		return identity.Identity{}, false
	}
	ident, ok := value.(identity.Identity)
	return ident, ok
}
