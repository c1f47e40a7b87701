package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"nebula-chat/internal/model"
	"nebula-chat/pkg/logger"
)

// ModelResponder streams the answer of an eino chat model. Tool calls for
// the action tools are turned into action events.
type ModelResponder struct {
	chatModel    einoModel.BaseChatModel
	tools        []tool.BaseTool
	systemPrompt string
	maxHistory   int
}

func NewModelResponder(chatModel einoModel.BaseChatModel, actionTools []tool.BaseTool, systemPrompt string, maxHistory int) *ModelResponder {
	return &ModelResponder{
		chatModel:    chatModel,
		tools:        actionTools,
		systemPrompt: systemPrompt,
		maxHistory:   maxHistory,
	}
}

func (r *ModelResponder) Respond(ctx context.Context, turn Turn) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		if !yield(presence(turn, "Thinking"), nil) {
			return
		}

		stream, err := r.chatModel.Stream(ctx, r.messages(turn))
		if err != nil {
			yield(model.Event{}, fmt.Errorf("model stream: %w", err))
			return
		}
		defer stream.Close()

		var chunks []*schema.Message
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(model.Event{}, fmt.Errorf("model stream: %w", err))
				return
			}
			chunks = append(chunks, chunk)
			if chunk.Content != "" && !yield(delta(turn, chunk.Content), nil) {
				return
			}
		}
		if len(chunks) == 0 {
			return
		}

		full, err := schema.ConcatMessages(chunks)
		if err != nil {
			yield(model.Event{}, fmt.Errorf("concat model output: %w", err))
			return
		}

		box := newToolbox(ctx, r.tools)
		for _, call := range full.ToolCalls {
			a, err := box.prepare(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				logger.Warnf("session %s: dropping tool call %s: %v", turn.SessionID, call.Function.Name, err)
				if !yield(delta(turn, "\nI could not prepare that action."), nil) {
					return
				}
				continue
			}
			if !yield(action(turn, a), nil) {
				return
			}
		}
	}
}

func (r *ModelResponder) messages(turn Turn) []*schema.Message {
	var out []*schema.Message

	system := r.systemPrompt
	if !turn.Context.IsZero() {
		system += "\n" + describeFilter(turn.Context)
	}
	if system != "" {
		out = append(out, schema.SystemMessage(system))
	}

	out = append(out, historyMessages(turn.History, r.maxHistory)...)
	return append(out, schema.UserMessage(turn.text()))
}

// historyMessages keeps the last limit conversational entries. Transient and
// client-side entries never reach the model.
func historyMessages(history []model.Message, limit int) []*schema.Message {
	var out []*schema.Message
	for _, m := range history {
		switch m.Kind {
		case model.KindUser:
			out = append(out, schema.UserMessage(m.PlainText()))
		case model.KindAssistant:
			if m.Text != "" {
				out = append(out, schema.AssistantMessage(m.Text, nil))
			}
		case model.KindAction:
			out = append(out, schema.AssistantMessage("Prepared "+m.PlainText()+" for signing.", nil))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func describeFilter(f model.ContextFilter) string {
	var parts []string
	if len(f.ChainIDs) > 0 {
		parts = append(parts, "chains: "+strings.Join(f.ChainIDs, ", "))
	}
	if f.WalletAddress != "" {
		parts = append(parts, "wallet: "+f.WalletAddress)
	}
	if f.Networks != "" {
		parts = append(parts, "networks: "+string(f.Networks))
	}
	return "The user is working with " + strings.Join(parts, "; ") + "."
}
