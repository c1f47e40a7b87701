package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"nebula-chat/internal/model"
)

// DefaultRouter receives swap calls when no router is configured.
const DefaultRouter = "0x1111111254EEB25477B68fb85Ed929f73A960582"

const routerABI = `[
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"swap","inputs":[{"name":"srcToken","type":"address"},{"name":"dstChainId","type":"uint256"},{"name":"dstToken","type":"address"},{"name":"amount","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[]}
]`

var parsedRouterABI = mustParseABI(routerABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// SwapTool prepares one step of a token swap: the allowance approval for an
// ERC-20 source token, or the swap call itself.
type SwapTool struct {
	router common.Address
}

func NewSwapTool(router string) *SwapTool {
	if !common.IsHexAddress(router) {
		router = DefaultRouter
	}
	return &SwapTool{router: common.HexToAddress(router)}
}

type swapArgs struct {
	OriginChainID      model.ChainID  `json:"origin_chain_id"`
	OriginToken        string         `json:"origin_token"`
	DestinationChainID model.ChainID  `json:"destination_chain_id"`
	DestinationToken   string         `json:"destination_token"`
	Amount             model.Quantity `json:"amount"`
	Sender             string         `json:"sender"`
	Receiver           string         `json:"receiver"`
	Step               model.SwapKind `json:"step"`
}

func (t *SwapTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: PrepareSwap,
		Desc: "Prepare a token swap, possibly across chains. ERC-20 source tokens need an approval step before the swap step.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"origin_chain_id":      {Type: schema.Integer, Desc: "chain id of the source token", Required: true},
			"origin_token":         {Type: schema.String, Desc: "source token address, zero address for the native token", Required: true},
			"destination_chain_id": {Type: schema.Integer, Desc: "chain id of the destination token", Required: true},
			"destination_token":    {Type: schema.String, Desc: "destination token address", Required: true},
			"amount":               {Type: schema.String, Desc: "amount of the source token in base units", Required: true},
			"sender":               {Type: schema.String, Desc: "wallet that signs the swap"},
			"receiver":             {Type: schema.String, Desc: "wallet that receives the output, defaults to sender"},
			"step": {
				Type: schema.String,
				Desc: "approval or swap",
				Enum: []string{string(model.SwapApproval), string(model.SwapExecute)},
			},
		}),
	}, nil
}

func (t *SwapTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args swapArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args.Step == "" {
		args.Step = model.SwapExecute
	}
	if args.OriginChainID <= 0 || args.DestinationChainID <= 0 {
		return "", fmt.Errorf("%w: both chain ids are required", ErrInvalidArguments)
	}
	for _, addr := range []string{args.OriginToken, args.DestinationToken} {
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("%w: %q is not a token address", ErrInvalidArguments, addr)
		}
	}
	amount, err := args.Amount.BigInt()
	if err != nil || amount.Sign() == 0 {
		return "", fmt.Errorf("%w: amount %q", ErrInvalidArguments, args.Amount)
	}
	if args.Receiver == "" {
		args.Receiver = args.Sender
	}

	src := common.HexToAddress(args.OriginToken)
	native := src == (common.Address{})

	var tx model.TransactionParams
	switch args.Step {
	case model.SwapApproval:
		if native {
			return "", fmt.Errorf("%w: native tokens need no approval", ErrInvalidArguments)
		}
		data, err := parsedRouterABI.Pack("approve", t.router, amount)
		if err != nil {
			return "", err
		}
		tx = model.TransactionParams{ChainID: args.OriginChainID, To: src.Hex(), Data: hexutil.Encode(data), Value: "0"}
	case model.SwapExecute:
		data, err := parsedRouterABI.Pack("swap", src, big.NewInt(int64(args.DestinationChainID)),
			common.HexToAddress(args.DestinationToken), amount, common.HexToAddress(args.Receiver))
		if err != nil {
			return "", err
		}
		value := model.Quantity("0")
		if native {
			value = model.Quantity(amount.String())
		}
		tx = model.TransactionParams{ChainID: args.OriginChainID, To: t.router.Hex(), Data: hexutil.Encode(data), Value: value}
	default:
		return "", fmt.Errorf("%w: step %q", ErrInvalidArguments, args.Step)
	}

	out, err := json.Marshal(model.SwapPayload{
		Transaction: tx,
		Intent: model.SwapIntent{
			OriginChainID:           args.OriginChainID,
			OriginTokenAddress:      src.Hex(),
			DestinationChainID:      args.DestinationChainID,
			DestinationTokenAddress: common.HexToAddress(args.DestinationToken).Hex(),
			Amount:                  model.Quantity(amount.String()),
			Sender:                  args.Sender,
			Receiver:                args.Receiver,
		},
		From:   model.TokenInfo{Address: src.Hex(), ChainID: args.OriginChainID, Amount: model.Quantity(amount.String())},
		To:     model.TokenInfo{Address: common.HexToAddress(args.DestinationToken).Hex(), ChainID: args.DestinationChainID},
		Action: args.Step,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NeedsApproval reports whether swapping token first requires an allowance.
func NeedsApproval(token string) bool {
	return common.IsHexAddress(token) && common.HexToAddress(token) != (common.Address{})
}
