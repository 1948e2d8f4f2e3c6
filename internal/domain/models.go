// Package domain holds the persona and transcript types shared by the turn
// engine, the model client and the transcript writer.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the chat role attached to a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleUser {
		return RoleAssistant
	}
	return RoleUser
}

// TextMessage is one turn of the transcript.
type TextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SwapRoles returns a copy of messages with user and assistant exchanged, so
// the user persona can be prompted as if it were the one answering.
func SwapRoles(messages []TextMessage) []TextMessage {
	out := make([]TextMessage, len(messages))
	for i, m := range messages {
		out[i] = TextMessage{Role: m.Role.Other(), Content: m.Content}
	}
	return out
}

// ErrIncompleteMeta is returned when a persona name or description is empty.
var ErrIncompleteMeta = errors.New("persona names and descriptions must not be empty")

// CharacterMeta describes the two personas of a dialogue. The "user" persona
// opens the conversation; the "bot" persona answers first.
type CharacterMeta struct {
	UserName      string `json:"user_name"`
	UserInfo      string `json:"user_info"`
	BotName       string `json:"bot_name"`
	BotInfo       string `json:"bot_info"`
	UserImagePath string `json:"user_image_path"`
	BotImagePath  string `json:"bot_image_path"`
}

// Validate reports which of the four persona fields are empty.
func (m CharacterMeta) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"user_name", m.UserName},
		{"user_info", m.UserInfo},
		{"bot_name", m.BotName},
		{"bot_info", m.BotInfo},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompleteMeta, strings.Join(missing, ", "))
	}
	return nil
}

// Swapped exchanges the two personas. Image paths are not carried over.
func (m CharacterMeta) Swapped() CharacterMeta {
	return CharacterMeta{
		UserName: m.BotName,
		UserInfo: m.BotInfo,
		BotName:  m.UserName,
		BotInfo:  m.UserInfo,
	}
}

// SpeakerFor returns the persona name and avatar attributed to role.
func (m CharacterMeta) SpeakerFor(role Role) (name, avatar string) {
	if role == RoleUser {
		return m.UserName, m.UserImagePath
	}
	return m.BotName, m.BotImagePath
}
