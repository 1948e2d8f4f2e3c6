package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/comigor/persona-dialogue/internal/config"
	"github.com/comigor/persona-dialogue/internal/logger"
	"github.com/comigor/persona-dialogue/internal/session"
)

// Input limits of the persona form.
const (
	MaxNameLength = 20
	MaxInfoLength = 255
)

// Handler handles HTTP requests.
type Handler struct {
	cfg     *config.Config
	store   *session.Store
	backend BackendFactory
}

// NewHandler creates a new handler.
func NewHandler(cfg *config.Config, store *session.Store, backend BackendFactory) *Handler {
	if backend == nil {
		backend = DefaultBackend
	}
	return &Handler{cfg: cfg, store: store, backend: backend}
}

// RegisterRoutes registers the routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:session_id", h.GetSession)
	api.DELETE("/sessions/:session_id", h.DeleteSession)

	// persona form and clear buttons
	api.PUT("/sessions/:session_id/meta", h.SetMeta)
	api.DELETE("/sessions/:session_id/meta", h.ClearMeta)
	api.DELETE("/sessions/:session_id/history", h.ClearHistory)
	api.PUT("/sessions/:session_id/api-key", h.SetAPIKey)

	api.POST("/sessions/:session_id/dialogue", h.StartDialogue)
	api.POST("/sessions/:session_id/debug/:what", h.Debug)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": h.store.Len(),
	})
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func (h *Handler) lookup(c echo.Context) (*session.Session, bool) {
	s, err := h.store.Get(c.Param("session_id"))
	return s, err == nil
}

func notFound(c echo.Context) error {
	return errorJSON(c, http.StatusNotFound, session.ErrNotFound)
}

// CreateSession starts a new session pre-filled with the configured personas.
// POST /api/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	s := h.store.Create()
	return c.JSON(http.StatusCreated, s.Snapshot())
}

// GetSession returns the session state, including the display feed.
// GET /api/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

// DeleteSession drops a session.
// DELETE /api/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.store.Delete(c.Param("session_id")); err != nil {
		return errorJSON(c, http.StatusNotFound, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type metaRequest struct {
	UserName string `json:"user_name"`
	UserInfo string `json:"user_info"`
	BotName  string `json:"bot_name"`
	BotInfo  string `json:"bot_info"`
}

func (r metaRequest) validate() error {
	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"user_name", r.UserName, MaxNameLength},
		{"user_info", r.UserInfo, MaxInfoLength},
		{"bot_name", r.BotName, MaxNameLength},
		{"bot_info", r.BotInfo, MaxInfoLength},
	} {
		if n := utf8.RuneCountInString(f.value); n > f.max {
			return fmt.Errorf("%s is %d characters long, the limit is %d", f.name, n, f.max)
		}
	}
	return nil
}

// SetMeta replaces the persona names and descriptions.
// PUT /api/sessions/:session_id/meta
func (h *Handler) SetMeta(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	var req metaRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := req.validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := s.SetPersonas(req.UserName, req.UserInfo, req.BotName, req.BotInfo); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, s.Meta())
}

// ClearMeta empties the persona fields.
// DELETE /api/sessions/:session_id/meta
func (h *Handler) ClearMeta(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	if err := s.ClearMeta(); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearHistory re-initialises the session: transcript, feed and personas.
// DELETE /api/sessions/:session_id/history
func (h *Handler) ClearHistory(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	if err := s.Reset(); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.NoContent(http.StatusNoContent)
}

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

// SetAPIKey overrides the configured credential for this session.
// PUT /api/sessions/:session_id/api-key
func (h *Handler) SetAPIKey(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	var req apiKeyRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	s.SetAPIKey(strings.TrimSpace(req.APIKey))
	return c.NoContent(http.StatusNoContent)
}

// Debug writes the credential, metadata or history to the log stream.
// POST /api/sessions/:session_id/debug/:what
func (h *Handler) Debug(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	switch what := c.Param("what"); what {
	case "api-key":
		logger.L.Debug("debug reveal", "session_id", s.ID, "api_key", MaskKey(s.APIKey(h.cfg.LLM.APIKey)))
	case "meta":
		logger.L.Debug("debug reveal", "session_id", s.ID, "meta", indentJSON(s.Meta()))
	case "history":
		logger.L.Debug("debug reveal", "session_id", s.ID, "history", indentJSON(s.History()))
	default:
		return errorJSON(c, http.StatusNotFound, fmt.Errorf("unknown debug target %q", what))
	}
	return c.NoContent(http.StatusNoContent)
}

// MaskKey keeps the identifier half of an API key and hides the secret.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if id, _, ok := strings.Cut(key, "."); ok {
		return id + ".****"
	}
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case isPrecondition(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
