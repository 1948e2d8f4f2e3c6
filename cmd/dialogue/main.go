package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/comigor/persona-dialogue/internal/avatar"
	"github.com/comigor/persona-dialogue/internal/config"
	"github.com/comigor/persona-dialogue/internal/dialogue"
	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/logger"
	"github.com/comigor/persona-dialogue/internal/server"
	"github.com/comigor/persona-dialogue/internal/session"
	"github.com/comigor/persona-dialogue/internal/transcript"
)

func main() {
	once := flag.Bool("once", false, "run one dialogue with the configured personas and exit")
	rounds := flag.Int("rounds", 0, "number of rounds for -once (defaults to dialogue.default_rounds)")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.L.Warn("failed to load .env", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	closer, err := logger.Init(cfg.Log.Level, cfg.Log.Dir)
	if err != nil {
		logger.L.Error("failed to initialise logging", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	if *once {
		if *rounds == 0 {
			*rounds = cfg.Dialogue.DefaultRounds
		}
		if err := runOnce(cfg, *rounds); err != nil {
			logger.L.Error("dialogue failed", "error", err)
			closer.Close()
			os.Exit(1)
		}
		return
	}

	store := session.NewStore(personas(cfg.Dialogue.Personas))
	e := server.New(cfg, store, server.DefaultBackend)

	// Start server
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.L.Info("starting server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.L.Error("shutdown failed", "error", err)
	}
}

func personas(p config.PersonaDefaults) domain.CharacterMeta {
	return domain.CharacterMeta{
		UserName: p.UserName,
		UserInfo: p.UserInfo,
		BotName:  p.BotName,
		BotInfo:  p.BotInfo,
	}
}

// runOnce plays a single dialogue from the configured personas, printing the
// feed to stdout and the transcript path at the end.
func runOnce(cfg *config.Config, rounds int) error {
	conv := dialogue.Conversation{Meta: personas(cfg.Dialogue.Personas)}
	if err := dialogue.CheckPreconditions(conv.Meta, cfg.LLM.APIKey, rounds); err != nil {
		return err
	}

	backend, err := server.DefaultBackend(cfg.LLM)
	if err != nil {
		return err
	}

	feed := domain.FeedFunc(func(item domain.FeedItem) {
		if item.Kind == domain.FeedMessage {
			fmt.Println(item.Text)
			return
		}
		fmt.Printf("[%s] %s\n", item.Kind, item.Text)
	})

	dc := cfg.Dialogue
	avatars := avatar.New(backend, dc.GenerateImages, dc.ImageDir,
		avatar.WithAttempts(dc.ImageAttempts),
		avatar.WithStylePrefix(dc.ImageStylePrefix),
		avatar.WithFeed(feed),
	)
	engine := dialogue.New(backend, avatars, transcript.NewWriter(dc.TranscriptDir), feed)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := engine.Run(ctx, &conv, rounds)
	if report != nil && report.TranscriptPath != "" {
		fmt.Println(report.TranscriptPath)
	}
	return err
}
