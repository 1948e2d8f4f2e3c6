// Package avatar draws a portrait for each persona before the dialogue starts.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/logger"
)

// Slot identifies which persona a portrait belongs to.
type Slot string

const (
	SlotUser Slot = "role1_info"
	SlotBot  Slot = "role2_info"
)

// DefaultAttempts is the number of image requests made before giving up.
const DefaultAttempts = 3

// Backend is the subset of the model client the generator needs.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Generator resolves a portrait for a persona: a generated image URL when
// generation is enabled and succeeds, otherwise a local default image.
type Generator struct {
	backend     Backend
	enabled     bool
	imageDir    string
	stylePrefix string
	attempts    int
	feed        domain.Feed
}

// Option configures a Generator.
type Option func(*Generator)

// WithFeed routes progress and failure notices to f.
func WithFeed(f domain.Feed) Option {
	return func(g *Generator) { g.feed = f }
}

// WithAttempts overrides DefaultAttempts.
func WithAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// WithStylePrefix sets the text prepended to every image prompt.
func WithStylePrefix(p string) Option {
	return func(g *Generator) { g.stylePrefix = p }
}

// New creates a Generator. backend may be nil when enabled is false.
func New(backend Backend, enabled bool, imageDir string, opts ...Option) *Generator {
	g := &Generator{
		backend:  backend,
		enabled:  enabled,
		imageDir: imageDir,
		attempts: DefaultAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DefaultPath is the local image used for slot when nothing was generated.
func (g *Generator) DefaultPath(slot Slot) string {
	return filepath.Join(g.imageDir, string(slot)+".png")
}

// Draw returns the portrait for the persona in slot. It never fails: every
// error ends in the default path, with a notice describing what went wrong.
func (g *Generator) Draw(ctx context.Context, slot Slot, name, profile string) string {
	fallback := g.DefaultPath(slot)
	if !g.enabled || g.backend == nil {
		return fallback
	}

	appearance, err := g.backend.Complete(ctx, AppearanceInstruction(profile))
	if err != nil || strings.TrimSpace(appearance) == "" {
		logger.L.Error("appearance prompt generation failed", "slot", slot, "error", err)
		g.notify(domain.FeedError, "failed to derive an image prompt from the persona; using the default avatar")
		return fallback
	}

	prompt := g.stylePrefix + strings.TrimSpace(appearance)
	logger.L.Debug("image prompt", "slot", slot, "prompt", prompt)

	g.notify(domain.FeedInfo, fmt.Sprintf("generating the avatar of %s...", name))
	url, err := g.generateWithRetry(ctx, prompt)
	if err != nil {
		return fallback
	}
	return url
}

// generateWithRetry makes up to g.attempts image requests and returns the
// first URL obtained.
func (g *Generator) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		url, err := g.backend.GenerateImage(ctx, prompt)
		if err == nil {
			return url, nil
		}
		lastErr = err
		logger.L.Warn("image generation failed", "attempt", attempt, "of", g.attempts, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < g.attempts {
			g.notify(domain.FeedWarning, "ran into a small problem, retrying...")
		}
	}
	g.notify(domain.FeedError, "image generation failed again; start the dialogue again to retry")
	return "", lastErr
}

func (g *Generator) notify(kind domain.FeedKind, text string) {
	if g.feed != nil {
		g.feed.Publish(domain.Notice(kind, text))
	}
}
