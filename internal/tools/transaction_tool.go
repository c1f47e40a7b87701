// Package tools holds the eino tools the assistant calls to prepare wallet
// actions. Each tool returns the JSON payload of the action it prepares.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/ethereum/go-ethereum/common"

	"nebula-chat/internal/model"
)

const (
	PrepareTransaction = "prepare_transaction"
	PrepareSwap        = "prepare_swap"
)

var ErrInvalidArguments = errors.New("invalid tool arguments")

// ActionType maps a tool name to the action its output describes.
func ActionType(toolName string) (model.ActionType, bool) {
	switch toolName {
	case PrepareTransaction:
		return model.ActionSignTransaction, true
	case PrepareSwap:
		return model.ActionSignSwap, true
	}
	return "", false
}

// TransactionTool prepares a plain transfer or contract call.
type TransactionTool struct{}

type transactionArgs struct {
	ChainID model.ChainID  `json:"chain_id"`
	To      string         `json:"to"`
	Value   model.Quantity `json:"value"`
	Data    string         `json:"data"`
}

func (t *TransactionTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: PrepareTransaction,
		Desc: "Prepare a transaction for the user to sign. Use it when the user asks to send native tokens or call a contract.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"chain_id": {
				Type:     schema.Integer,
				Desc:     "EVM chain id, e.g. 1 for Ethereum mainnet",
				Required: true,
			},
			"to": {
				Type:     schema.String,
				Desc:     "0x-prefixed recipient address",
				Required: true,
			},
			"value": {
				Type: schema.String,
				Desc: "amount in wei, decimal or 0x hex",
			},
			"data": {
				Type: schema.String,
				Desc: "0x-prefixed calldata, empty for plain transfers",
			},
		}),
	}, nil
}

func (t *TransactionTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args transactionArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args.ChainID <= 0 {
		return "", fmt.Errorf("%w: chain_id is required", ErrInvalidArguments)
	}
	if !common.IsHexAddress(args.To) {
		return "", fmt.Errorf("%w: to %q is not an address", ErrInvalidArguments, args.To)
	}
	if _, err := args.Value.BigInt(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args.Data == "" {
		args.Data = "0x"
	}

	out, err := json.Marshal(model.TransactionParams{
		ChainID: args.ChainID,
		To:      common.HexToAddress(args.To).Hex(),
		Data:    args.Data,
		Value:   args.Value,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ActionTools returns every action tool, ready to bind to a model.
func ActionTools(router string) []tool.BaseTool {
	return []tool.BaseTool{
		&TransactionTool{},
		NewSwapTool(router),
	}
}
