package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nebula-chat/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok", 2*time.Second)
}

func writeResult(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": v})
}

func TestCreateSessionSendsFilterAndToken(t *testing.T) {
	var got model.CreateSessionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeResult(w, model.Session{ID: "s1", Context: got.Context})
	})

	filter := &model.ContextFilter{ChainIDs: []string{"1"}}
	s, err := c.CreateSession(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, filter, got.Context)
	assert.Equal(t, *filter, s.Filter())
}

func TestUpdateSessionIsIdempotent(t *testing.T) {
	var stored model.ContextFilter
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req model.UpdateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		stored = *req.Context
		writeResult(w, model.Session{ID: "s1", Context: &stored})
	})

	filter := model.ContextFilter{ChainIDs: []string{"1", "10"}, WalletAddress: "0xabc"}
	for range 2 {
		s, err := c.UpdateSession(context.Background(), "s1", filter)
		require.NoError(t, err)
		assert.True(t, filter.Equal(s.Filter()))
	}
}

func TestNon2xxIsRequestError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":"session not found"}`)
	})

	_, err := c.GetSession(context.Background(), "missing")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Equal(t, "/session/missing", reqErr.Path)
	assert.Equal(t, "session not found", reqErr.Message)
}

func TestListAndDelete(t *testing.T) {
	deletedAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/session/list":
			writeResult(w, []model.Session{{ID: "a"}, {ID: "b"}})
		case r.Method == http.MethodDelete && r.URL.Path == "/session/a":
			writeResult(w, model.DeleteResult{ID: "a", DeletedAt: deletedAt})
		default:
			http.NotFound(w, r)
		}
	})

	list, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[1].ID)

	res, err := c.DeleteSession(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, deletedAt.Equal(res.DeletedAt))
}

func TestStreamDecodesEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var req model.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s1", req.SessionID)
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: init\ndata: {\"session_id\":\"s1\",\"request_id\":\"r1\"}\n\n")
		_, _ = fmt.Fprint(w, "event: delta\ndata: {\"v\":\"Hi\",\"request_id\":\"r1\"}\n\n")
	})

	var events []model.Event
	req := model.NewChatRequest("s1", []model.ContentItem{model.TextContent("Hello")}, nil)
	for ev, err := range c.Stream(context.Background(), req) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "Hi", events[1].Text)
}

func TestStreamRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	var got error
	for _, err := range c.Stream(context.Background(), model.ChatRequest{}) {
		got = err
	}
	var reqErr *RequestError
	require.ErrorAs(t, got, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
}
