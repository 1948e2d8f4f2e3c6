package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// ChatCompleter is the subset of openai.Client used for plain completions; it is easy to mock in tests.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ImageCreator is the subset of openai.Client used for avatar generation.
type ImageCreator interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}
