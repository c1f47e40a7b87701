package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nebula-chat/internal/client"
	"nebula-chat/internal/model"
	"nebula-chat/internal/service"
	"nebula-chat/internal/storage"
)

type stubWallet struct{}

func (stubWallet) SendTransaction(context.Context, model.TransactionParams) (string, error) {
	return "0xfeed", nil
}

func (stubWallet) WaitForConfirmation(context.Context, model.ChainID, string) error {
	return nil
}

// drain returns the last published log of a turn.
func drain(updates <-chan service.Update, errs <-chan error) ([]model.Message, error) {
	var last []model.Message
	for u := range updates {
		last = u.Messages
	}
	return last, <-errs
}

func kinds(msgs []model.Message) []model.Kind {
	out := make([]model.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestChatServiceAgainstBackend(t *testing.T) {
	srv := newServer(t)
	api := client.New(srv.URL, token, 5*time.Second)
	ctx := context.Background()

	chat := service.NewChatService(api, storage.NewMemoryStorage(),
		model.ContextFilter{ChainIDs: []string{"1"}}, service.WithWallet(stubWallet{}))

	msgs, err := drain(chat.Send(ctx, model.TextContent("/tx 0x000000000000000000000000000000000000dEaD 5")))
	require.NoError(t, err)
	require.Equal(t, []model.Kind{model.KindUser, model.KindAssistant, model.KindAction}, kinds(msgs))
	assert.NotEmpty(t, chat.SessionID())
	assert.Equal(t, model.ChainID(1), msgs[2].Action.Transaction.ChainID)

	report, err := chat.ExecuteAction(ctx, msgs[2].ID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "0xfeed", report.TxHash)

	msgs, err = drain(chat.ReportAction(ctx, report))
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	assert.Equal(t, model.KindAssistant, last.Kind)
	assert.Equal(t, "Transaction 0xfeed on chain 1 is confirmed.", last.Text)

	// a server-side filter change arrives as a context event
	_, err = drain(chat.Send(ctx, model.TextContent("/chain 10")))
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, chat.Filter().ChainIDs)

	id := chat.SessionID()
	require.NoError(t, chat.NewConversation())

	sess, err := chat.OpenSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, sess.Filter().ChainIDs)
	assert.NotEmpty(t, chat.Messages())
	for _, m := range chat.Messages() {
		assert.NotEqual(t, model.KindPresence, m.Kind)
	}

	list := chat.ListSessions(ctx)
	require.Len(t, list, 1)

	n, err := chat.ClearSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, chat.ListSessions(ctx))
}

func TestSwapApprovalIsNotReported(t *testing.T) {
	srv := newServer(t)
	api := client.New(srv.URL, token, 5*time.Second)
	ctx := context.Background()

	chat := service.NewChatService(api, storage.NewMemoryStorage(), model.ContextFilter{}, service.WithWallet(stubWallet{}))
	msgs, err := drain(chat.Send(ctx, model.TextContent(
		"/swap 5000000 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48 0x4200000000000000000000000000000000000006 1 8453")))
	require.NoError(t, err)
	require.Equal(t, []model.Kind{model.KindUser, model.KindAssistant, model.KindAction, model.KindAction}, kinds(msgs))

	report, err := chat.ExecuteAction(ctx, msgs[2].ID)
	require.NoError(t, err)
	assert.Nil(t, report)

	report, err = chat.ExecuteAction(ctx, msgs[3].ID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, int64(1), report.ChainID)
}
