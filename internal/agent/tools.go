package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"

	"nebula-chat/internal/model"
	"nebula-chat/internal/tools"
)

type toolbox map[string]tool.InvokableTool

func newToolbox(ctx context.Context, list []tool.BaseTool) toolbox {
	box := make(toolbox, len(list))
	for _, t := range list {
		inv, ok := t.(tool.InvokableTool)
		if !ok {
			continue
		}
		info, err := inv.Info(ctx)
		if err != nil {
			continue
		}
		box[info.Name] = inv
	}
	return box
}

// prepare runs an action tool and decodes its output the way a client would.
func (b toolbox) prepare(ctx context.Context, name, args string) (*model.Action, error) {
	inv, ok := b[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	typ, ok := tools.ActionType(name)
	if !ok {
		return nil, fmt.Errorf("tool %q does not prepare an action", name)
	}

	out, err := inv.InvokableRun(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return model.ParseAction(typ, out)
}
