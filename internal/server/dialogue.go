package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/comigor/persona-dialogue/internal/auth"
	"github.com/comigor/persona-dialogue/internal/avatar"
	"github.com/comigor/persona-dialogue/internal/dialogue"
	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/llm"
	"github.com/comigor/persona-dialogue/internal/logger"
	"github.com/comigor/persona-dialogue/internal/session"
	"github.com/comigor/persona-dialogue/internal/transcript"
)

type startRequest struct {
	Rounds         int   `json:"rounds"`
	GenerateImages *bool `json:"generate_images"`
}

type startResponse struct {
	Report  *dialogue.Report     `json:"report,omitempty"`
	Meta    domain.CharacterMeta `json:"meta"`
	History []domain.TextMessage `json:"history"`
	Error   string               `json:"error,omitempty"`
}

func isPrecondition(err error) bool {
	return errors.Is(err, domain.ErrIncompleteMeta) ||
		errors.Is(err, dialogue.ErrInvalidRounds) ||
		errors.Is(err, llm.ErrAPIKeyNotSet) ||
		errors.Is(err, auth.ErrInvalidCredentialFormat)
}

// StartDialogue runs a whole dialogue synchronously and answers with the
// report and the resulting transcript.
// POST /api/sessions/:session_id/dialogue
func (h *Handler) StartDialogue(c echo.Context) error {
	s, ok := h.lookup(c)
	if !ok {
		return notFound(c)
	}
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Rounds == 0 {
		req.Rounds = h.cfg.Dialogue.DefaultRounds
	}
	images := h.cfg.Dialogue.GenerateImages
	if req.GenerateImages != nil {
		images = *req.GenerateImages
	}

	// the dialogue outlives a dropped connection so its transcript still lands
	ctx := context.WithoutCancel(c.Request().Context())

	var report *dialogue.Report
	var runErr error
	err := s.Exclusive(func() error {
		report, runErr = h.runDialogue(ctx, s, req.Rounds, images)
		return nil
	})
	if err != nil {
		return errorJSON(c, statusFor(err), err)
	}

	resp := startResponse{Report: report, Meta: s.Meta(), History: s.History()}
	if runErr != nil {
		resp.Error = runErr.Error()
		return c.JSON(statusFor(runErr), resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) runDialogue(ctx context.Context, s *session.Session, rounds int, images bool) (*dialogue.Report, error) {
	conv := s.Conversation()
	llmCfg := h.cfg.LLM
	llmCfg.APIKey = s.APIKey(h.cfg.LLM.APIKey)

	if err := dialogue.CheckPreconditions(conv.Meta, llmCfg.APIKey, rounds); err != nil {
		s.Publish(domain.Notice(domain.FeedError, err.Error()))
		return nil, err
	}

	backend, err := h.backend(llmCfg)
	if err != nil {
		return nil, err
	}

	dc := h.cfg.Dialogue
	avatars := avatar.New(backend, images, dc.ImageDir,
		avatar.WithAttempts(dc.ImageAttempts),
		avatar.WithStylePrefix(dc.ImageStylePrefix),
		avatar.WithFeed(s),
	)
	engine := dialogue.New(backend, avatars, transcript.NewWriter(dc.TranscriptDir), s)

	logger.L.Info("dialogue started", "session_id", s.ID, "rounds", rounds, "images", images)
	report, err := engine.Run(ctx, &conv, rounds)
	s.Commit(conv)
	return report, err
}
