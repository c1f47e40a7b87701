package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nebula-chat/internal/agent"
	"nebula-chat/internal/model"
	"nebula-chat/internal/reducer"
	"nebula-chat/internal/storage"
	"nebula-chat/pkg/logger"
)

const (
	defaultTitle   = "New chat"
	titleMaxLength = 30
)

var (
	ErrSessionRequired = errors.New("session_id is required")
	ErrEmptyMessage    = errors.New("no user message in request")
	ErrSessionBusy     = errors.New("session is already answering")
)

// SessionService is the conversation backend behind the HTTP handlers:
// session CRUD over a Storage and assistant turns through a Responder.
type SessionService struct {
	store     storage.Storage
	responder agent.Responder

	mu   sync.Mutex
	busy map[string]bool
}

func NewSessionService(store storage.Storage, responder agent.Responder) *SessionService {
	return &SessionService{
		store:     store,
		responder: responder,
		busy:      make(map[string]bool),
	}
}

func (s *SessionService) CreateSession(req model.CreateSessionRequest) (*model.Session, error) {
	now := time.Now().UTC()
	title := req.Title
	if title == "" {
		title = defaultTitle
	}

	session := &model.Session{
		ID:        uuid.New().String(),
		Title:     title,
		IsPublic:  req.IsPublic,
		Context:   cloneFilter(req.Context),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logger.Infof("created session %s", session.ID)
	return session, nil
}

func (s *SessionService) GetSession(id string) (*model.Session, error) {
	session, err := s.store.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return session, nil
}

func (s *SessionService) ListSessions() ([]*model.Session, error) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession applies the non-empty fields of req. An empty filter clears
// the session filter.
func (s *SessionService) UpdateSession(id string, req model.UpdateSessionRequest) (*model.Session, error) {
	session, err := s.store.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	if req.Title != "" {
		session.Title = req.Title
	}
	if req.IsPublic != nil {
		session.IsPublic = *req.IsPublic
	}
	if req.Context != nil {
		session.Context = nil
		if !req.Context.IsZero() {
			session.Context = cloneFilter(req.Context)
		}
	}
	session.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveSession(session.Summary()); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

func (s *SessionService) DeleteSession(id string) (*model.DeleteResult, error) {
	if err := s.store.DeleteSession(id); err != nil {
		return nil, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return &model.DeleteResult{ID: id, DeletedAt: time.Now().UTC()}, nil
}

// StreamChat runs one assistant turn. Request problems are returned
// directly; once streaming has started, failures arrive on the error channel
// and are recorded in the transcript.
func (s *SessionService) StreamChat(ctx context.Context, req model.ChatRequest) (<-chan model.Event, <-chan error, error) {
	if req.SessionID == "" {
		return nil, nil, ErrSessionRequired
	}
	content := lastUserContent(req.Messages)
	if len(content) == 0 {
		return nil, nil, ErrEmptyMessage
	}

	session, err := s.store.GetSession(req.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session %s: %w", req.SessionID, err)
	}
	if !s.acquire(session.ID) {
		return nil, nil, ErrSessionBusy
	}

	events := make(chan model.Event, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		defer s.release(session.ID)

		s.runTurn(ctx, session, req, content, events, errs)
	}()

	return events, errs, nil
}

func (s *SessionService) runTurn(ctx context.Context, session *model.Session, req model.ChatRequest, content []model.ContentItem, events chan<- model.Event, errs chan<- error) {
	requestID := uuid.New().String()
	log := logger.WithFields(logrus.Fields{"session": session.ID, "request": requestID})

	if req.Context != nil && !req.Context.Equal(session.Filter()) {
		session.Context = cloneFilter(req.Context)
	}

	state := reducer.New(session.ID, session.History).AppendUser(content...)
	if session.Title == "" || session.Title == defaultTitle {
		session.Title = truncateString(state.Messages[len(state.Messages)-1].PlainText(), titleMaxLength)
	}

	send := func(ev model.Event) bool {
		state = state.Apply(ev)
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	turn := agent.Turn{
		SessionID: session.ID,
		RequestID: requestID,
		History:   state.Messages[:len(state.Messages)-1],
		Content:   content,
		Context:   session.Filter(),
	}

	if send(model.Event{Type: model.EventInit, SessionID: session.ID, RequestID: requestID}) {
		for ev, err := range s.responder.Respond(ctx, turn) {
			if err != nil {
				log.Errorf("responder failed: %v", err)
				state = state.Fail(err)
				errs <- err
				break
			}
			if ev.Type == model.EventContext && ev.Context != nil {
				session.Context = cloneFilter(ev.Context)
			}
			if !send(ev) {
				break
			}
		}
	}

	if ctx.Err() != nil {
		log.Infof("turn cancelled: %v", ctx.Err())
		state = state.Cancel()
	} else {
		state = state.Finish()
	}

	session.History = state.Messages
	session.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveSession(session); err != nil {
		log.Errorf("failed to save transcript: %v", err)
	}
}

func (s *SessionService) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[id] {
		return false
	}
	s.busy[id] = true
	return true
}

func (s *SessionService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, id)
}

func lastUserContent(messages []model.ChatMessage) []model.ContentItem {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(model.KindUser) && len(messages[i].Content) > 0 {
			return messages[i].Content
		}
	}
	return nil
}

func cloneFilter(f *model.ContextFilter) *model.ContextFilter {
	if f == nil {
		return nil
	}
	c := f.Clone()
	return &c
}

func truncateString(str string, maxLen int) string {
	str = strings.TrimSpace(str)
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}
