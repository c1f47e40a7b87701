package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nebula-chat/internal/agent"
	"nebula-chat/internal/client"
	"nebula-chat/internal/config"
	"nebula-chat/internal/model"
	"nebula-chat/internal/service"
	"nebula-chat/internal/storage"
	"nebula-chat/internal/tools"
)

const token = "secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{AuthToken: token}}
	sessions := service.NewSessionService(storage.NewMemoryStorage(), agent.NewScriptResponder(tools.ActionTools("")))
	srv := httptest.NewServer(NewRouter(cfg, NewChatHandler(sessions, time.Minute)))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthRequired(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/session/list")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionCRUD(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, token, 5*time.Second)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, &model.ContextFilter{ChainIDs: []string{"1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"1"}, created.Filter().ChainIDs)

	updated, err := c.UpdateSession(ctx, created.ID, model.ContextFilter{ChainIDs: []string{"8453"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"8453"}, updated.Filter().ChainIDs)

	renamed, err := c.RenameSession(ctx, created.ID, "portfolio")
	require.NoError(t, err)
	assert.Equal(t, "portfolio", renamed.Title)
	assert.Equal(t, []string{"8453"}, renamed.Filter().ChainIDs, "rename keeps the filter")

	list, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	res, err := c.DeleteSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, res.ID)
	assert.False(t, res.DeletedAt.IsZero())

	_, err = c.GetSession(ctx, created.ID)
	var reqErr *client.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
}

func TestStreamChatWireFormat(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, token, 5*time.Second)
	created, err := c.CreateSession(context.Background(), &model.ContextFilter{ChainIDs: []string{"1"}})
	require.NoError(t, err)

	body, _ := json.Marshal(model.NewChatRequest(created.ID,
		[]model.ContentItem{model.TextContent("/tx 0x000000000000000000000000000000000000dEaD 5")}, nil))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/chat", strings.NewReader(string(body)))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "event: init\n")
	assert.Contains(t, out, "event: presence\n")
	assert.Contains(t, out, "event: delta\n")
	assert.Contains(t, out, "event: action\n")
	assert.Contains(t, out, `"type":"sign_transaction"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestStreamChatRejectsBadRequests(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, token, 5*time.Second)

	for ev, err := range c.Stream(context.Background(), model.NewChatRequest("missing",
		[]model.ContentItem{model.TextContent("hi")}, nil)) {
		var reqErr *client.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
		assert.Empty(t, ev.Type)
	}
}

func TestActionData(t *testing.T) {
	data, err := actionData(&model.Action{
		Type:        model.ActionSignTransaction,
		Transaction: &model.TransactionParams{ChainID: 1, To: "0x000000000000000000000000000000000000dEaD", Value: "1"},
	})
	require.NoError(t, err)

	a, err := model.ParseAction(model.ActionSignTransaction, data)
	require.NoError(t, err)
	assert.Equal(t, model.ChainID(1), a.Transaction.ChainID)

	_, err = actionData(&model.Action{Type: "teleport"})
	assert.ErrorIs(t, err, model.ErrUnknownAction)
}
