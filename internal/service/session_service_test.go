package service

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nebula-chat/internal/agent"
	"nebula-chat/internal/model"
	"nebula-chat/internal/storage"
)

type scriptedResponder struct {
	events []model.Event
	err    error
	block  bool
}

func (r scriptedResponder) Respond(ctx context.Context, turn agent.Turn) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		for _, ev := range r.events {
			ev.SessionID, ev.RequestID = turn.SessionID, turn.RequestID
			if !yield(ev, nil) {
				return
			}
		}
		if r.block {
			<-ctx.Done()
			return
		}
		if r.err != nil {
			yield(model.Event{}, r.err)
		}
	}
}

func chatRequest(id, text string) model.ChatRequest {
	return model.NewChatRequest(id, []model.ContentItem{model.TextContent(text)}, nil)
}

func collectTurn(t *testing.T, events <-chan model.Event, errs <-chan error) ([]model.Event, error) {
	t.Helper()
	var out []model.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

func TestStreamChatRecordsTranscript(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc := NewSessionService(store, scriptedResponder{events: []model.Event{
		{Type: model.EventPresence, Text: "Thinking"},
		{Type: model.EventDelta, Text: "Hi "},
		{Type: model.EventDelta, Text: "there"},
		{Type: model.EventContext, Context: &model.ContextFilter{ChainIDs: []string{"10"}}},
	}})

	sess, err := svc.CreateSession(model.CreateSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, defaultTitle, sess.Title)

	events, errs, err := svc.StreamChat(context.Background(), chatRequest(sess.ID, "what is the gas price on optimism today?"))
	require.NoError(t, err)
	got, err := collectTurn(t, events, errs)
	require.NoError(t, err)

	require.Len(t, got, 5)
	assert.Equal(t, model.EventInit, got[0].Type)
	assert.Equal(t, sess.ID, got[0].SessionID)
	assert.NotEmpty(t, got[0].RequestID)

	stored, err := svc.GetSession(sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	assert.Equal(t, "Hi there", stored.History[1].Text)
	assert.Equal(t, []string{"10"}, stored.Filter().ChainIDs)
	assert.Equal(t, "what is the gas price on optim...", stored.Title)
}

func TestStreamChatRequestErrors(t *testing.T) {
	svc := NewSessionService(storage.NewMemoryStorage(), scriptedResponder{})

	_, _, err := svc.StreamChat(context.Background(), chatRequest("", "hi"))
	assert.ErrorIs(t, err, ErrSessionRequired)

	_, _, err = svc.StreamChat(context.Background(), model.ChatRequest{SessionID: "x"})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, _, err = svc.StreamChat(context.Background(), chatRequest("missing", "hi"))
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestStreamChatResponderFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	svc := NewSessionService(storage.NewMemoryStorage(), scriptedResponder{
		events: []model.Event{{Type: model.EventPresence, Text: "Thinking"}},
		err:    boom,
	})
	sess, err := svc.CreateSession(model.CreateSessionRequest{Title: "kept"})
	require.NoError(t, err)

	events, errs, err := svc.StreamChat(context.Background(), chatRequest(sess.ID, "hi"))
	require.NoError(t, err)
	_, err = collectTurn(t, events, errs)
	assert.ErrorIs(t, err, boom)

	stored, err := svc.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", stored.Title)
	require.Len(t, stored.History, 2)
	assert.Equal(t, model.KindError, stored.History[1].Kind)
}

func TestStreamChatOneTurnPerSession(t *testing.T) {
	svc := NewSessionService(storage.NewMemoryStorage(), scriptedResponder{
		events: []model.Event{{Type: model.EventPresence, Text: "Thinking"}},
		block:  true,
	})
	sess, err := svc.CreateSession(model.CreateSessionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, errs, err := svc.StreamChat(ctx, chatRequest(sess.ID, "first"))
	require.NoError(t, err)
	<-events // init

	_, _, err = svc.StreamChat(context.Background(), chatRequest(sess.ID, "second"))
	assert.ErrorIs(t, err, ErrSessionBusy)

	cancel()
	_, err = collectTurn(t, events, errs)
	require.NoError(t, err)

	stored, err := svc.GetSession(sess.ID)
	require.NoError(t, err)
	// the presence placeholder does not survive cancellation
	assert.Equal(t, []model.Kind{model.KindUser}, kinds(stored.History))
}

func TestUpdateSession(t *testing.T) {
	svc := NewSessionService(storage.NewMemoryStorage(), scriptedResponder{})
	sess, err := svc.CreateSession(model.CreateSessionRequest{Context: &model.ContextFilter{ChainIDs: []string{"1"}}})
	require.NoError(t, err)

	public := true
	updated, err := svc.UpdateSession(sess.ID, model.UpdateSessionRequest{Title: "t", IsPublic: &public})
	require.NoError(t, err)
	assert.True(t, updated.IsPublic)
	assert.Equal(t, []string{"1"}, updated.Filter().ChainIDs)

	updated, err = svc.UpdateSession(sess.ID, model.UpdateSessionRequest{Context: &model.ContextFilter{}})
	require.NoError(t, err)
	assert.Nil(t, updated.Context)

	_, err = svc.UpdateSession("missing", model.UpdateSessionRequest{})
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	res, err := svc.DeleteSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.ID)
	_, err = svc.DeleteSession(sess.ID)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("  short ", 10))
	assert.Equal(t, "héllo...", truncateString("héllo wörld", 5))
}
