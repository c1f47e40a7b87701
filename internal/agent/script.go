package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"

	"nebula-chat/internal/model"
	"nebula-chat/internal/tools"
)

// ScriptResponder answers without a model. It understands a few slash
// commands and echoes everything else, which makes it useful for demos and
// end-to-end tests.
//
//	/tx <to> <wei> [chain]
//	/swap <amount> <from-token> <to-token> [chain] [destination-chain]
//	/image <url>
//	/chain <id>[,<id>...]
type ScriptResponder struct {
	tools []tool.BaseTool
}

func NewScriptResponder(actionTools []tool.BaseTool) *ScriptResponder {
	return &ScriptResponder{tools: actionTools}
}

func (r *ScriptResponder) Respond(ctx context.Context, turn Turn) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		if !yield(presence(turn, "Thinking"), nil) {
			return
		}

		if hash, chainID, ok := reportedTransaction(turn.Content); ok {
			words(turn, fmt.Sprintf("Transaction %s on chain %d is confirmed.", hash, chainID), yield)
			return
		}

		text := strings.TrimSpace(turn.text())
		fields := strings.Fields(text)
		if len(fields) == 0 {
			words(turn, "Ask me about your wallet, or try /tx, /swap, /image or /chain.", yield)
			return
		}

		box := newToolbox(ctx, r.tools)
		switch fields[0] {
		case "/tx":
			r.transfer(ctx, box, turn, fields[1:], yield)
		case "/swap":
			r.swap(ctx, box, turn, fields[1:], yield)
		case "/image":
			if len(fields) < 2 {
				words(turn, "Usage: /image <url>", yield)
				return
			}
			yield(model.Event{
				Type:      model.EventImage,
				SessionID: turn.SessionID,
				RequestID: turn.RequestID,
				Image:     &model.Image{URL: fields[1]},
			}, nil)
		case "/chain":
			if len(fields) < 2 {
				words(turn, "Usage: /chain <id>[,<id>...]", yield)
				return
			}
			filter := turn.Context.Clone()
			filter.ChainIDs = strings.Split(fields[1], ",")
			if !words(turn, "Switched chains to "+fields[1]+".", yield) {
				return
			}
			yield(model.Event{Type: model.EventContext, SessionID: turn.SessionID, Context: &filter}, nil)
		default:
			words(turn, echo(text, turn.Context), yield)
		}
	}
}

func (r *ScriptResponder) transfer(ctx context.Context, box toolbox, turn Turn, args []string, yield func(model.Event, error) bool) {
	if len(args) < 2 {
		words(turn, "Usage: /tx <to> <wei> [chain]", yield)
		return
	}
	chainID := chainArg(args, 2, turn.Context)

	raw, _ := json.Marshal(map[string]any{"chain_id": chainID, "to": args[0], "value": args[1]})
	a, err := box.prepare(ctx, tools.PrepareTransaction, string(raw))
	if err != nil {
		words(turn, "I could not prepare that transfer: "+err.Error(), yield)
		return
	}
	if !words(turn, fmt.Sprintf("Please sign the transfer of %s wei on chain %d.", args[1], chainID), yield) {
		return
	}
	yield(action(turn, a), nil)
}

func (r *ScriptResponder) swap(ctx context.Context, box toolbox, turn Turn, args []string, yield func(model.Event, error) bool) {
	if len(args) < 3 {
		words(turn, "Usage: /swap <amount> <from-token> <to-token> [chain] [destination-chain]", yield)
		return
	}
	origin := chainArg(args, 3, turn.Context)
	destination := origin
	if len(args) > 4 {
		if id, err := strconv.ParseInt(args[4], 10, 64); err == nil {
			destination = id
		}
	}

	steps := []model.SwapKind{model.SwapExecute}
	if tools.NeedsApproval(args[1]) {
		steps = []model.SwapKind{model.SwapApproval, model.SwapExecute}
	}

	prepared := make([]*model.Action, 0, len(steps))
	for _, step := range steps {
		raw, _ := json.Marshal(map[string]any{
			"origin_chain_id":      origin,
			"origin_token":         args[1],
			"destination_chain_id": destination,
			"destination_token":    args[2],
			"amount":               args[0],
			"sender":               turn.Context.WalletAddress,
			"step":                 step,
		})
		a, err := box.prepare(ctx, tools.PrepareSwap, string(raw))
		if err != nil {
			words(turn, "I could not prepare that swap: "+err.Error(), yield)
			return
		}
		prepared = append(prepared, a)
	}

	if !words(turn, fmt.Sprintf("Please sign %d step(s) to swap %s.", len(prepared), args[0]), yield) {
		return
	}
	for _, a := range prepared {
		if !yield(action(turn, a), nil) {
			return
		}
	}
}

// words streams text one word at a time.
func words(turn Turn, text string, yield func(model.Event, error) bool) bool {
	for _, w := range strings.SplitAfter(text, " ") {
		if !yield(delta(turn, w), nil) {
			return false
		}
	}
	return true
}

func chainArg(args []string, i int, filter model.ContextFilter) int64 {
	if len(args) > i {
		if id, err := strconv.ParseInt(args[i], 10, 64); err == nil {
			return id
		}
	}
	if len(filter.ChainIDs) > 0 {
		if id, err := strconv.ParseInt(filter.ChainIDs[0], 10, 64); err == nil {
			return id
		}
	}
	return 1
}

func reportedTransaction(content []model.ContentItem) (string, int64, bool) {
	for _, item := range content {
		if item.Type == model.ContentTransaction {
			return item.TransactionHash, item.ChainID, true
		}
	}
	return "", 0, false
}

func echo(text string, filter model.ContextFilter) string {
	var b strings.Builder
	b.WriteString("You said: ")
	b.WriteString(text)
	if !filter.IsZero() {
		fmt.Fprintf(&b, " (chains %s", strings.Join(filter.ChainIDs, ","))
		if filter.WalletAddress != "" {
			fmt.Fprintf(&b, ", wallet %s", filter.WalletAddress)
		}
		b.WriteString(")")
	}
	return b.String()
}
