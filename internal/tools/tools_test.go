package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nebula-chat/internal/model"
)

const (
	usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	weth = "0x4200000000000000000000000000000000000006"
	user = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestTransactionTool(t *testing.T) {
	ctx := context.Background()
	tt := &TransactionTool{}

	info, err := tt.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, PrepareTransaction, info.Name)

	out, err := tt.InvokableRun(ctx, `{"chain_id":8453,"to":"0x000000000000000000000000000000000000dead","value":"1000"}`)
	require.NoError(t, err)

	action, err := model.ParseAction(model.ActionSignTransaction, out)
	require.NoError(t, err)
	assert.Equal(t, model.ChainID(8453), action.Transaction.ChainID)
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", action.Transaction.To)
	assert.Equal(t, model.Quantity("1000"), action.Transaction.Value)

	for _, bad := range []string{
		`not json`,
		`{"to":"0x000000000000000000000000000000000000dead"}`,
		`{"chain_id":1,"to":"bob"}`,
		`{"chain_id":1,"to":"0x000000000000000000000000000000000000dead","value":"-1"}`,
	} {
		_, err := tt.InvokableRun(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidArguments, bad)
	}
}

func TestSwapToolApprovalThenSwap(t *testing.T) {
	ctx := context.Background()
	st := NewSwapTool("")

	args := `{"origin_chain_id":1,"origin_token":"` + usdc + `","destination_chain_id":8453,"destination_token":"` + weth + `","amount":"5000000","sender":"` + user + `","step":"%s"}`

	out, err := st.InvokableRun(ctx, strings.Replace(args, "%s", "approval", 1))
	require.NoError(t, err)
	approval, err := model.ParseAction(model.ActionSignSwap, out)
	require.NoError(t, err)
	assert.True(t, approval.Swap.IsApproval())
	assert.Equal(t, usdc, approval.Swap.Transaction.To)
	// approve(address,uint256)
	assert.True(t, strings.HasPrefix(approval.Swap.Transaction.Data, "0x095ea7b3"))

	out, err = st.InvokableRun(ctx, strings.Replace(args, "%s", "swap", 1))
	require.NoError(t, err)
	swap, err := model.ParseAction(model.ActionSignSwap, out)
	require.NoError(t, err)
	assert.False(t, swap.Swap.IsApproval())
	assert.Equal(t, DefaultRouter, swap.Swap.Transaction.To)
	assert.Equal(t, model.Quantity("0"), swap.Swap.Transaction.Value)
	assert.Equal(t, user, swap.Swap.Intent.Receiver)
}

func TestSwapToolNativeSource(t *testing.T) {
	ctx := context.Background()
	st := NewSwapTool(DefaultRouter)
	native := "0x0000000000000000000000000000000000000000"

	base := `{"origin_chain_id":1,"origin_token":"` + native + `","destination_chain_id":1,"destination_token":"` + usdc + `","amount":"7"`

	_, err := st.InvokableRun(ctx, base+`,"step":"approval"}`)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	out, err := st.InvokableRun(ctx, base+`}`)
	require.NoError(t, err)
	swap, err := model.ParseAction(model.ActionSignSwap, out)
	require.NoError(t, err)
	assert.Equal(t, model.Quantity("7"), swap.Swap.Transaction.Value)

	assert.False(t, NeedsApproval(native))
	assert.True(t, NeedsApproval(usdc))
}

func TestActionType(t *testing.T) {
	typ, ok := ActionType(PrepareSwap)
	assert.True(t, ok)
	assert.Equal(t, model.ActionSignSwap, typ)

	_, ok = ActionType("return_device")
	assert.False(t, ok)

	assert.Len(t, ActionTools(""), 2)
}
