// Package agent produces the assistant side of a conversation turn as a
// sequence of stream events.
package agent

import (
	"context"
	"fmt"
	"iter"

	"nebula-chat/internal/config"
	"nebula-chat/internal/llm"
	"nebula-chat/internal/model"
	"nebula-chat/internal/tools"
)

// Turn is one user request together with what the assistant may look at.
type Turn struct {
	SessionID string
	RequestID string
	History   []model.Message
	Content   []model.ContentItem
	Context   model.ContextFilter
}

func (t Turn) text() string {
	return model.NewUserMessage(t.Content...).PlainText()
}

// Responder answers a turn. The sequence ends after the first error.
type Responder interface {
	Respond(ctx context.Context, turn Turn) iter.Seq2[model.Event, error]
}

// New returns the responder for the configured provider.
func New(ctx context.Context, cfg *config.Config) (Responder, error) {
	actionTools := tools.ActionTools(tools.DefaultRouter)

	if cfg.Model.Provider == "script" {
		return NewScriptResponder(actionTools), nil
	}

	chatModel, err := llm.NewChatModel(ctx, cfg, actionTools)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	return NewModelResponder(chatModel, actionTools, cfg.Model.SystemPrompt, cfg.Model.MaxHistory), nil
}

func presence(turn Turn, text string) model.Event {
	return model.Event{Type: model.EventPresence, SessionID: turn.SessionID, RequestID: turn.RequestID, Text: text}
}

func delta(turn Turn, text string) model.Event {
	return model.Event{Type: model.EventDelta, SessionID: turn.SessionID, RequestID: turn.RequestID, Text: text}
}

func action(turn Turn, a *model.Action) model.Event {
	return model.Event{Type: model.EventAction, SessionID: turn.SessionID, RequestID: turn.RequestID, Action: a}
}
