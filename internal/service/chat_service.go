package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nebula-chat/internal/action"
	"nebula-chat/internal/filter"
	"nebula-chat/internal/model"
	"nebula-chat/internal/reducer"
	"nebula-chat/internal/storage"
	"nebula-chat/pkg/logger"
)

var (
	ErrStreamInFlight = errors.New("a response is still streaming")
	ErrNoSession      = errors.New("no active session")
	ErrNoWallet       = errors.New("no wallet configured")
	ErrUnknownMessage = errors.New("message not found")
)

// clearConcurrency bounds parallel deletes in ClearSessions.
const clearConcurrency = 4

// API is the conversation backend as seen by the controller.
// *client.Client implements it.
type API interface {
	CreateSession(ctx context.Context, filter *model.ContextFilter) (*model.Session, error)
	UpdateSession(ctx context.Context, id string, filter model.ContextFilter) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) (*model.DeleteResult, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	Stream(ctx context.Context, req model.ChatRequest) iter.Seq2[model.Event, error]
}

// Update is one snapshot of the conversation published while a turn runs.
type Update struct {
	// Event is nil for local transitions (user turn, cancel, failure).
	Event     *model.Event
	SessionID string
	Messages  []model.Message
}

// ChatService drives one conversation at a time: it creates the session
// lazily, keeps a single stream in flight, folds events through the reducer
// and runs wallet actions.
type ChatService struct {
	api      API
	store    storage.Storage
	wallet   action.Wallet
	defaults model.ContextFilter

	mu        sync.Mutex
	state     reducer.State
	filter    *filter.State
	sessionID string
	cancel    context.CancelFunc
	handlers  map[string]action.Handler
}

type Option func(*ChatService)

func WithWallet(w action.Wallet) Option {
	return func(s *ChatService) { s.wallet = w }
}

func NewChatService(api API, store storage.Storage, defaults model.ContextFilter, opts ...Option) *ChatService {
	f, err := filter.New(defaults)
	if err != nil {
		logger.Warnf("ignoring default context filter: %v", err)
		f, _ = filter.New(model.ContextFilter{})
		defaults = model.ContextFilter{}
	}

	s := &ChatService{
		api:      api,
		store:    store,
		defaults: defaults,
		filter:   f,
		handlers: make(map[string]action.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatService) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *ChatService) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

func (s *ChatService) Filter() model.ContextFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Current()
}

// Streaming reports whether a response is in flight.
func (s *ChatService) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Send posts a user turn and streams the assistant's answer. Callers should
// drain updates until it is closed; after Stop the remaining snapshots may be
// dropped. errs receives at most one error. Cancellation through Stop is not
// reported as an error. When the session cannot be created the conversation
// is reset and the RequestError is returned on errs.
func (s *ChatService) Send(ctx context.Context, content ...model.ContentItem) (<-chan Update, <-chan error) {
	updates := make(chan Update, 32)
	errs := make(chan error, 1)

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		errs <- ErrStreamInFlight
		close(updates)
		close(errs)
		return updates, errs
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = s.state.AppendUser(content...)
	first := s.updateLocked(nil)
	s.mu.Unlock()

	go func() {
		defer close(errs)
		defer close(updates)
		defer s.endStream(cancel)

		publish := func(u Update) {
			select {
			case updates <- u:
				return
			default:
			}
			select {
			case updates <- u:
			case <-ctx.Done():
			case <-streamCtx.Done():
			}
		}
		publish(first)

		if err := s.run(streamCtx, content, publish); err != nil {
			errs <- err
		}
	}()

	return updates, errs
}

func (s *ChatService) run(ctx context.Context, content []model.ContentItem, publish func(Update)) error {
	sessionID, err := s.ensureSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			publish(s.transition(func(st reducer.State) reducer.State { return st.Cancel() }, nil))
			return nil
		}
		publish(s.abandonTurn(err))
		return err
	}

	s.mu.Lock()
	req := model.NewChatRequest(sessionID, content, s.filter.Pending())
	s.mu.Unlock()

	entry := logger.WithFields(logrus.Fields{"session_id": sessionID})

	for ev, err := range s.api.Stream(ctx, req) {
		if err != nil {
			if ctx.Err() != nil {
				entry.Debug("stream cancelled")
				publish(s.transition(func(st reducer.State) reducer.State { return st.Cancel() }, nil))
				s.cacheTranscript()
				return nil
			}
			entry.Warnf("stream failed: %v", err)
			publish(s.transition(func(st reducer.State) reducer.State { return st.Fail(err) }, nil))
			s.cacheTranscript()
			return err
		}

		if ev.Type == model.EventContext && ev.Context != nil {
			s.mu.Lock()
			s.filter.ReconcileWithRemote(*ev.Context)
			s.mu.Unlock()
		}

		e := ev
		publish(s.transition(func(st reducer.State) reducer.State { return st.Apply(e) }, &e))
	}

	publish(s.transition(func(st reducer.State) reducer.State { return st.Finish() }, nil))
	s.cacheTranscript()
	return nil
}

// ensureSession creates the session on the first turn, or pushes a pending
// filter edit to an existing one.
func (s *ChatService) ensureSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	pending := s.filter.Pending()
	dirty := s.filter.Dirty()
	current := s.filter.Current()
	s.mu.Unlock()

	if sessionID == "" {
		sess, err := s.api.CreateSession(ctx, pending)
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		s.mu.Lock()
		s.sessionID = sess.ID
		s.state.SessionID = sess.ID
		s.reconcileLocked(sess)
		s.mu.Unlock()

		if err := s.store.SaveSession(sess); err != nil {
			logger.Warnf("cache session %s: %v", sess.ID, err)
		}
		logger.Infof("created session %s", sess.ID)
		return sess.ID, nil
	}

	if dirty {
		sess, err := s.api.UpdateSession(ctx, sessionID, current)
		if err != nil {
			return "", fmt.Errorf("update session %s: %w", sessionID, err)
		}
		s.mu.Lock()
		s.reconcileLocked(sess)
		s.mu.Unlock()
	}
	return sessionID, nil
}

// abandonTurn leaves the log without an error message when the turn never
// reached the stream. A failed bootstrap drops the whole view; a failed
// filter push only drops the pending user turn, and the edit stays dirty.
func (s *ChatService) abandonTurn(err error) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		logger.Warnf("session bootstrap failed, resetting conversation: %v", err)
		s.resetLocked()
		return s.updateLocked(nil)
	}
	logger.Warnf("turn not sent: %v", err)
	s.state = s.state.Retract()
	return s.updateLocked(nil)
}

func (s *ChatService) reconcileLocked(sess *model.Session) {
	if sess.Context != nil {
		s.filter.ReconcileWithRemote(*sess.Context)
		return
	}
	s.filter.ReconcileWithRemote(s.filter.Current())
}

// transition applies fn to the reducer state and returns the snapshot.
func (s *ChatService) transition(fn func(reducer.State) reducer.State, ev *model.Event) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = fn(s.state)
	if ev != nil && ev.Type == model.EventInit && ev.SessionID != "" && s.sessionID == "" {
		s.sessionID = ev.SessionID
	}
	return s.updateLocked(ev)
}

func (s *ChatService) updateLocked(ev *model.Event) Update {
	return Update{
		Event:     ev,
		SessionID: s.sessionID,
		Messages:  s.state.Snapshot(),
	}
}

func (s *ChatService) endStream(cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
}

// Stop aborts the in-flight stream. It reports whether there was one.
func (s *ChatService) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *ChatService) cacheTranscript() {
	s.mu.Lock()
	id := s.sessionID
	msgs := s.state.Snapshot()
	s.mu.Unlock()

	if id == "" {
		return
	}
	err := s.store.SaveMessages(id, msgs)
	if errors.Is(err, storage.ErrSessionNotFound) {
		now := time.Now()
		err = s.store.SaveSession(&model.Session{ID: id, History: msgs, CreatedAt: now, UpdatedAt: now})
	}
	if err != nil {
		logger.Warnf("cache transcript of %s: %v", id, err)
	}
}

// SetFilter records an explicit filter edit. With an active session the edit
// is pushed to the server immediately and reconciled.
func (s *ChatService) SetFilter(ctx context.Context, f model.ContextFilter) error {
	s.mu.Lock()
	if err := s.filter.Set(f); err != nil {
		s.mu.Unlock()
		return err
	}
	id := s.sessionID
	current := s.filter.Current()
	s.mu.Unlock()

	if id == "" {
		return nil
	}

	sess, err := s.api.UpdateSession(ctx, id, current)
	if err != nil {
		// still dirty, the next Send retries
		return fmt.Errorf("update session %s: %w", id, err)
	}

	s.mu.Lock()
	s.reconcileLocked(sess)
	s.mu.Unlock()
	return nil
}

// DeriveFilter applies connected-wallet defaults unless the user edited the
// filter.
func (s *ChatService) DeriveFilter(wallet string, chainID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Derive(wallet, chainID)
}

// Handler returns the action handler for an action message, creating it on
// first use so that its status survives retries.
func (s *ChatService) Handler(messageID string) (action.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handlers[messageID]; ok {
		return h, nil
	}
	if s.wallet == nil {
		return nil, ErrNoWallet
	}
	msg, ok := s.state.Message(messageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}

	h, err := action.NewHandler(msg, s.wallet, s.actionLog)
	if err != nil {
		return nil, err
	}
	s.handlers[messageID] = h
	return h, nil
}

func (s *ChatService) actionLog() action.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExecuteAction runs the wallet flow of an action card. Calling it again
// after a failure retries from sending.
func (s *ChatService) ExecuteAction(ctx context.Context, messageID string) (*action.Report, error) {
	h, err := s.Handler(messageID)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx)
}

// ReportAction sends the confirmed transaction back as a user turn, unless the
// report is nil or another action now follows the card.
func (s *ChatService) ReportAction(ctx context.Context, report *action.Report) (<-chan Update, <-chan error) {
	s.mu.Lock()
	suppressed := report == nil || s.state.FollowedByAction(report.MessageID)
	noSession := s.sessionID == ""
	s.mu.Unlock()

	if suppressed || noSession {
		updates := make(chan Update)
		errs := make(chan error, 1)
		if !suppressed {
			errs <- ErrNoSession
		}
		close(updates)
		close(errs)
		return updates, errs
	}
	return s.Send(ctx, report.Content()...)
}

// ListSessions merges the remote list with local overrides. A remote failure
// degrades to the local view.
func (s *ChatService) ListSessions(ctx context.Context) []*model.Session {
	remote, err := s.api.ListSessions(ctx)
	if err != nil {
		logger.Warnf("list sessions failed, showing local view: %v", err)
		remote = nil
	}
	return storage.Overlay(remote, s.store)
}

// OpenSession loads a stored conversation. Failure is fatal for the caller.
func (s *ChatService) OpenSession(ctx context.Context, id string) (*model.Session, error) {
	if s.Streaming() {
		return nil, ErrStreamInFlight
	}

	sess, err := s.api.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", id, err)
	}

	history := sess.History
	if len(history) == 0 {
		if cached, err := s.store.GetMessages(id); err == nil {
			history = cached
		}
	}

	s.mu.Lock()
	s.sessionID = sess.ID
	s.state = reducer.New(sess.ID, history)
	s.handlers = make(map[string]action.Handler)
	s.filter.Reset(s.defaults)
	s.reconcileLocked(sess)
	s.mu.Unlock()

	s.cacheTranscript()
	return sess, nil
}

// NewConversation forgets the current session; the next Send creates one.
func (s *ChatService) NewConversation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrStreamInFlight
	}
	s.resetLocked()
	return nil
}

func (s *ChatService) resetLocked() {
	s.sessionID = ""
	s.state = reducer.State{}
	s.handlers = make(map[string]action.Handler)
	s.filter.Reset(s.defaults)
}

// DeleteSession soft-deletes remotely and removes the session from local
// views.
func (s *ChatService) DeleteSession(ctx context.Context, id string) error {
	res, err := s.api.DeleteSession(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	at := res.DeletedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.store.MarkDeleted(id, at); err != nil {
		logger.Warnf("record deletion of %s: %v", id, err)
	}

	s.mu.Lock()
	if s.sessionID == id && s.cancel == nil {
		s.resetLocked()
	}
	s.mu.Unlock()
	return nil
}

// ClearSessions deletes every listed session in parallel and returns the
// first failure.
func (s *ChatService) ClearSessions(ctx context.Context) (int, error) {
	sessions := s.ListSessions(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearConcurrency)

	var (
		mu      sync.Mutex
		deleted int
	)
	for _, sess := range sessions {
		id := sess.ID
		g.Go(func() error {
			if err := s.DeleteSession(gctx, id); err != nil {
				return err
			}
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return deleted, err
}
