// Package llm talks to the hosted model API: plain chat completions and image
// generation through its OpenAI-compatible endpoint, and the character chat
// event stream.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/persona-dialogue/internal/auth"
	"github.com/comigor/persona-dialogue/internal/config"
	"github.com/comigor/persona-dialogue/internal/logger"
)

// Client calls the model API with a freshly signed token on every request.
type Client struct {
	cfg        config.LLMConfig
	chat       ChatCompleter
	images     ImageCreator
	httpClient *http.Client
}

// signingTransport replaces the Authorization header with a new signed token.
type signingTransport struct {
	rt     http.RoundTripper
	apiKey string
	ttl    int64
}

func (t signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := auth.GenerateToken(t.apiKey, t.ttl)
	if err != nil {
		return nil, err
	}
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	cl.Header.Set("Authorization", "Bearer "+token)
	return t.rt.RoundTrip(cl)
}

// NewClient creates the OpenAI-compatible client for the chat and image endpoints.
func NewClient(cfg config.LLMConfig) *openai.Client {
	// signingTransport swaps the static bearer for a signed token per request
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: signingTransport{rt: http.DefaultTransport, apiKey: cfg.APIKey, ttl: cfg.TokenTTLSeconds},
	}

	return openai.NewClientWithConfig(config)
}

// New returns a Client for cfg. It fails with ErrAPIKeyNotSet when cfg carries
// no credential; nothing is sent over the network.
func New(cfg config.LLMConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.TokenTTLSeconds <= 0 {
		cfg.TokenTTLSeconds = 1800
	}
	oa := NewClient(cfg)
	return &Client{
		cfg:        cfg,
		chat:       oa,
		images:     oa,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Complete sends prompt as a single user message to the chat model and
// returns the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		logger.L.Error("chat completion failed", "model", c.cfg.ChatModel, "error", err)
		return "", wrapOpenAIError("chat completion", err)
	}
	logger.L.Debug("chat completion received", "model", c.cfg.ChatModel, "response", resp, "elapsed", time.Since(start))

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage requests one image for prompt and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.images.CreateImage(ctx, openai.ImageRequest{
		Model:  c.cfg.ImageModel,
		Prompt: prompt,
	})
	if err != nil {
		return "", wrapOpenAIError("image generation", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrEmptyResponse
	}
	return resp.Data[0].URL, nil
}
