// Package dialogue runs the scripted conversation between two personas.
//
// The engine is a small state machine: the user persona opens, then the bot
// and user personas alternate for a fixed number of rounds. Both personas are
// voiced by the same character model; for the user persona's turns the
// transcript roles and persona metadata are swapped so the model answers as
// the user persona.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/qmuntal/stateless"

	"github.com/comigor/persona-dialogue/internal/auth"
	"github.com/comigor/persona-dialogue/internal/avatar"
	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/llm"
	"github.com/comigor/persona-dialogue/internal/logger"
)

// TurnState is a state of the turn engine.
type TurnState string

const (
	StateAwaitingOpening TurnState = "AwaitingOpening"
	StateRole2Turn       TurnState = "Role2Turn" // bot persona speaks
	StateRole1Turn       TurnState = "Role1Turn" // user persona speaks
	StateTerminated      TurnState = "Terminated"
)

// TurnTrigger moves the engine between states.
type TurnTrigger string

const (
	TriggerOpeningSpoken TurnTrigger = "OpeningSpoken"
	TriggerBotReplied    TurnTrigger = "BotReplied"
	TriggerUserReplied   TurnTrigger = "UserReplied"
	TriggerHalt          TurnTrigger = "Halt"
)

// Round limits accepted by Run.
const (
	MinRounds = 3
	MaxRounds = 20
)

// ErrInvalidRounds is returned when the round count is outside [MinRounds, MaxRounds].
var ErrInvalidRounds = fmt.Errorf("rounds must be between %d and %d", MinRounds, MaxRounds)

// Model is the subset of the model client the engine needs.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CharacterChat(ctx context.Context, meta domain.CharacterMeta, messages []domain.TextMessage) (string, error)
}

// AvatarDrawer resolves a portrait for a persona; it never fails.
type AvatarDrawer interface {
	Draw(ctx context.Context, slot avatar.Slot, name, profile string) string
}

// TranscriptWriter persists the finished conversation.
type TranscriptWriter interface {
	Write(meta domain.CharacterMeta, history []domain.TextMessage) (string, error)
}

// Conversation is the state a run reads and extends. It is owned by the
// caller; Run mutates it in place.
type Conversation struct {
	Meta    domain.CharacterMeta
	History []domain.TextMessage
}

// Report describes how a run ended.
type Report struct {
	Rounds          int       `json:"rounds"`
	CompletedRounds int       `json:"completed_rounds"`
	Halted          bool      `json:"halted"`
	HaltedAt        TurnState `json:"halted_at,omitempty"`
	TranscriptPath  string    `json:"transcript_path,omitempty"`
}

// Engine drives one conversation at a time.
type Engine struct {
	model   Model
	avatars AvatarDrawer
	writer  TranscriptWriter
	feed    domain.Feed
}

// New creates an Engine. avatars, writer and feed may be nil.
func New(model Model, avatars AvatarDrawer, writer TranscriptWriter, feed domain.Feed) *Engine {
	return &Engine{model: model, avatars: avatars, writer: writer, feed: feed}
}

// CheckPreconditions reports whether a dialogue may start: complete personas,
// a well-formed API key and a round count in range. It performs no I/O.
func CheckPreconditions(meta domain.CharacterMeta, apiKey string, rounds int) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(apiKey) == "" {
		return llm.ErrAPIKeyNotSet
	}
	if _, err := auth.ParseCredential(apiKey); err != nil {
		return err
	}
	if rounds < MinRounds || rounds > MaxRounds {
		return fmt.Errorf("%w: got %d", ErrInvalidRounds, rounds)
	}
	return nil
}

// run is the mutable state of a single Run call.
type run struct {
	conv   *Conversation
	rounds int
	round  int
	halted bool
	err    error
}

// Run draws the avatars, lets the user persona open, alternates bot and user
// replies for the given number of rounds and writes the transcript.
//
// An empty reply halts the loop without an error (Report.Halted). A failed
// remote call halts it too and is returned. In both cases the transcript
// gathered so far is still written.
func (e *Engine) Run(ctx context.Context, conv *Conversation, rounds int) (*Report, error) {
	if err := conv.Meta.Validate(); err != nil {
		return nil, err
	}
	if rounds < MinRounds || rounds > MaxRounds {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRounds, rounds)
	}

	if e.avatars != nil {
		conv.Meta.UserImagePath = e.avatars.Draw(ctx, avatar.SlotUser, conv.Meta.UserName, conv.Meta.UserInfo)
		conv.Meta.BotImagePath = e.avatars.Draw(ctx, avatar.SlotBot, conv.Meta.BotName, conv.Meta.BotInfo)
	}

	r := &run{conv: conv, rounds: rounds}
	fsm := e.newStateMachine(r)
	report := &Report{Rounds: rounds}

	for {
		state := fsm.MustState().(TurnState)
		if state == StateTerminated {
			break
		}
		trigger := e.step(ctx, state, r)
		if trigger == TriggerHalt {
			report.HaltedAt = state
		}
		if err := fsm.FireCtx(ctx, trigger); err != nil {
			// only reachable through a misconfigured machine
			r.err = errors.Join(r.err, err)
			break
		}
	}

	report.CompletedRounds = r.round
	report.Halted = r.halted

	if e.writer != nil {
		path, err := e.writer.Write(conv.Meta, conv.History)
		if err != nil {
			logger.L.Error("failed to write transcript", "error", err)
			r.err = errors.Join(r.err, fmt.Errorf("write transcript: %w", err))
		} else {
			report.TranscriptPath = path
			logger.L.Info("transcript written", "path", path)
		}
	}

	return report, r.err
}

func (e *Engine) newStateMachine(r *run) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateAwaitingOpening)

	// State: AwaitingOpening
	//   - On OpeningSpoken -> Role2Turn
	//   - On Halt -> Terminated
	fsm.Configure(StateAwaitingOpening).
		Permit(TriggerOpeningSpoken, StateRole2Turn).
		Permit(TriggerHalt, StateTerminated)

	// State: Role2Turn
	//   - On BotReplied -> Role1Turn
	//   - On Halt -> Terminated
	fsm.Configure(StateRole2Turn).
		Permit(TriggerBotReplied, StateRole1Turn).
		Permit(TriggerHalt, StateTerminated)

	// State: Role1Turn
	//   - On UserReplied -> Role2Turn while rounds remain, Terminated afterwards
	//   - On Halt -> Terminated
	fsm.Configure(StateRole1Turn).
		Permit(TriggerUserReplied, StateRole2Turn, func(_ context.Context, _ ...any) bool {
			return r.round < r.rounds
		}).
		Permit(TriggerUserReplied, StateTerminated, func(_ context.Context, _ ...any) bool {
			return r.round >= r.rounds
		}).
		Permit(TriggerHalt, StateTerminated)

	fsm.Configure(StateTerminated).
		OnEntry(func(_ context.Context, _ ...any) error {
			logger.L.Info("dialogue finished", "rounds", r.rounds, "completed", r.round, "halted", r.halted, "messages", len(r.conv.History))
			return nil
		})

	return fsm
}

// step performs the work of state and returns the trigger to fire.
func (e *Engine) step(ctx context.Context, state TurnState, r *run) TurnTrigger {
	conv := r.conv
	switch state {
	case StateAwaitingOpening:
		instruction := OpeningInstruction(conv.Meta)
		logger.L.Debug("opening instruction", "instruction", instruction)
		text, err := e.model.Complete(ctx, instruction)
		if err != nil {
			return e.halt(r, state, err)
		}
		e.append(conv, domain.RoleUser, text)
		return TriggerOpeningSpoken

	case StateRole2Turn:
		text, err := e.model.CharacterChat(ctx, conv.Meta, slices.Clone(conv.History))
		if err == nil && strings.TrimSpace(text) == "" {
			err = llm.ErrEmptyResponse
		}
		if err != nil {
			return e.halt(r, state, err)
		}
		e.append(conv, domain.RoleAssistant, text)
		return TriggerBotReplied

	case StateRole1Turn:
		text, err := e.model.CharacterChat(ctx, conv.Meta.Swapped(), domain.SwapRoles(conv.History))
		if err == nil && strings.TrimSpace(text) == "" {
			err = llm.ErrEmptyResponse
		}
		if err != nil {
			return e.halt(r, state, err)
		}
		e.append(conv, domain.RoleUser, text)
		r.round++
		return TriggerUserReplied
	}
	return TriggerHalt
}

// halt records why the loop stops. Empty replies are a soft stop; anything
// else is kept as the run's error.
func (e *Engine) halt(r *run, state TurnState, err error) TurnTrigger {
	r.halted = true
	if errors.Is(err, llm.ErrEmptyResponse) {
		logger.L.Warn("empty reply, stopping dialogue", "state", state, "round", r.round)
		e.publish(domain.Notice(domain.FeedWarning, "the model returned an empty reply; the dialogue stops here"))
		return TriggerHalt
	}
	logger.L.Error("turn failed, stopping dialogue", "state", state, "round", r.round, "error", err)
	e.publish(domain.Notice(domain.FeedError, err.Error()))
	r.err = fmt.Errorf("%s: %w", state, err)
	return TriggerHalt
}

func (e *Engine) append(conv *Conversation, role domain.Role, text string) {
	conv.History = append(conv.History, domain.TextMessage{Role: role, Content: text})
	name, avatarPath := conv.Meta.SpeakerFor(role)
	item := domain.Notice(domain.FeedMessage, name+":"+text)
	item.Role = role
	item.Avatar = avatarPath
	e.publish(item)
}

func (e *Engine) publish(item domain.FeedItem) {
	if e.feed != nil {
		e.feed.Publish(item)
	}
}
