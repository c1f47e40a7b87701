package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionSignTransaction(t *testing.T) {
	action, err := ParseAction(ActionSignTransaction,
		`{"chainId":1,"to":"0x000000000000000000000000000000000000dEaD","data":"0x","value":"1000"}`)
	require.NoError(t, err)

	params, ok := action.Params()
	require.True(t, ok)
	assert.Equal(t, ChainID(1), params.ChainID)
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", params.To)

	v, err := params.Value.BigInt()
	require.NoError(t, err)
	assert.Equal(t, "1000", v.String())
}

func TestParseActionAcceptsStringChainAndNumericValue(t *testing.T) {
	action, err := ParseAction(ActionSignTransaction, `{"chainId":"0x89","to":"0xabc","value":42}`)
	require.NoError(t, err)
	assert.Equal(t, ChainID(137), action.Transaction.ChainID)
	assert.Equal(t, Quantity("42"), action.Transaction.Value)
}

func TestParseActionRejectsBadPayloads(t *testing.T) {
	cases := map[string]struct {
		typ ActionType
		raw string
	}{
		"not json":       {ActionSignTransaction, `{"chainId":`},
		"missing to":     {ActionSignTransaction, `{"chainId":1}`},
		"missing chain":  {ActionSignTransaction, `{"to":"0xabc"}`},
		"negative value": {ActionSignTransaction, `{"chainId":1,"to":"0xabc","value":"-5"}`},
		"unknown type":   {ActionType("sign_message"), `{}`},
		"bad swap kind":  {ActionSignSwap, `{"transaction":{"chainId":1,"to":"0xabc"},"action":"bridge"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAction(tc.typ, tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestParseActionSwapDefaultsToSwapKind(t *testing.T) {
	action, err := ParseAction(ActionSignSwap,
		`{"transaction":{"chainId":8453,"to":"0xrouter","data":"0x01"},"from":{"address":"0xa","chain_id":8453},"to":{"address":"0xb","chain_id":8453}}`)
	require.NoError(t, err)
	require.NotNil(t, action.Swap)
	assert.Equal(t, SwapExecute, action.Swap.Action)
	assert.False(t, action.Swap.IsApproval())

	params, ok := action.Params()
	require.True(t, ok)
	assert.Equal(t, ChainID(8453), params.ChainID)
}

func TestTransactionContentWireShape(t *testing.T) {
	b, err := json.Marshal([]ContentItem{TransactionContent("0xabc", 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"transaction","transaction_hash":"0xabc","chain_id":1}]`, string(b))
}

func TestContextFilterCloneIsIndependent(t *testing.T) {
	f := ContextFilter{ChainIDs: []string{"1", "137"}, WalletAddress: "0xabc"}
	c := f.Clone()
	c.ChainIDs[0] = "10"

	assert.Equal(t, "1", f.ChainIDs[0])
	assert.False(t, f.Equal(c))
	assert.True(t, f.Equal(f.Clone()))
}
