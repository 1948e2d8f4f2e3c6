package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/comigor/persona-dialogue/internal/auth"
	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/logger"
	"github.com/comigor/persona-dialogue/internal/sse"
)

// characterMeta is the persona block the character endpoint understands.
type characterMeta struct {
	UserInfo string `json:"user_info"`
	BotInfo  string `json:"bot_info"`
	BotName  string `json:"bot_name"`
	UserName string `json:"user_name"`
}

type characterRequest struct {
	Model       string               `json:"model"`
	Meta        characterMeta        `json:"meta"`
	Prompt      []domain.TextMessage `json:"prompt"`
	Incremental bool                 `json:"incremental"`
}

// StreamCharacterChat asks the character model for the bot persona's next
// line. The request is sent when iteration starts; the sequence yields text
// fragments and can be ranged over only once. The response body is released
// when iteration ends.
func (c *Client) StreamCharacterChat(ctx context.Context, meta domain.CharacterMeta, messages []domain.TextMessage) iter.Seq2[string, error] {
	return sse.Once(func(yield func(string, error) bool) {
		body, err := c.openCharacterStream(ctx, meta, messages)
		if err != nil {
			yield("", err)
			return
		}
		defer func() {
			_, _ = io.Copy(io.Discard, body)
			_ = body.Close()
		}()

		for frag, err := range sse.Decode(body) {
			if !yield(frag, err) || err != nil {
				return
			}
		}
	})
}

// CharacterChat drains StreamCharacterChat and returns the joined reply.
func (c *Client) CharacterChat(ctx context.Context, meta domain.CharacterMeta, messages []domain.TextMessage) (string, error) {
	return sse.Collect(c.StreamCharacterChat(ctx, meta, messages))
}

func (c *Client) openCharacterStream(ctx context.Context, meta domain.CharacterMeta, messages []domain.TextMessage) (io.ReadCloser, error) {
	token, err := auth.GenerateToken(c.cfg.APIKey, c.cfg.TokenTTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("character chat: %w", err)
	}

	body, err := json.Marshal(characterRequest{
		Model: c.cfg.CharacterModel,
		Meta: characterMeta{
			UserInfo: meta.UserInfo,
			BotInfo:  meta.BotInfo,
			BotName:  meta.BotName,
			UserName: meta.UserName,
		},
		Prompt:      messages,
		Incremental: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CharacterURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	logger.L.Debug("character chat request", "model", c.cfg.CharacterModel, "bot_name", meta.BotName, "messages", len(messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteCallError{Op: "character chat", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RemoteCallError{Op: "character chat", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}
