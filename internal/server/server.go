// Package server exposes the dialogue controls over HTTP: persona inputs,
// credential override, clear buttons, the start button and the debug
// reveals.
package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/comigor/persona-dialogue/internal/avatar"
	"github.com/comigor/persona-dialogue/internal/config"
	"github.com/comigor/persona-dialogue/internal/dialogue"
	"github.com/comigor/persona-dialogue/internal/llm"
	"github.com/comigor/persona-dialogue/internal/logger"
	"github.com/comigor/persona-dialogue/internal/session"
)

// Backend is everything a dialogue run asks of the model API.
type Backend interface {
	dialogue.Model
	avatar.Backend
}

// BackendFactory builds a Backend for one run from the effective credential.
type BackendFactory func(cfg config.LLMConfig) (Backend, error)

// DefaultBackend returns the real model API client.
func DefaultBackend(cfg config.LLMConfig) (Backend, error) {
	c, err := llm.New(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// New creates and configures the HTTP server.
func New(cfg *config.Config, store *session.Store, backend BackendFactory) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.L.Log(c.Request().Context(), level, "request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := NewHandler(cfg, store, backend)
	h.RegisterRoutes(e)

	return e
}
