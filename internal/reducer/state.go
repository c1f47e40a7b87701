// Package reducer folds decoded stream events into the ordered message log
// of a conversation.
//
// State values are immutable: every transition returns a new State and
// leaves the receiver untouched, so snapshots can be handed to renderers on
// other goroutines without copying.
package reducer

import (
	"slices"

	"nebula-chat/internal/model"
)

type State struct {
	SessionID string
	RequestID string
	Messages  []model.Message
}

// New seeds a state from a stored history. Transient presence entries are
// not carried over.
func New(sessionID string, history []model.Message) State {
	msgs := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.Kind == model.KindPresence {
			continue
		}
		msgs = append(msgs, m.Clone())
	}
	return State{SessionID: sessionID, Messages: msgs}
}

// Apply returns the state after ev.
func (s State) Apply(ev model.Event) State {
	switch ev.Type {
	case model.EventInit:
		next := s
		next.RequestID = ev.RequestID
		if ev.SessionID != "" {
			next.SessionID = ev.SessionID
		}
		return next

	case model.EventDelta:
		requestID := s.requestID(ev)
		if tail, ok := s.tail(); ok {
			switch {
			case tail.Kind == model.KindPresence:
				return s.replaceTail(model.NewAssistantMessage(requestID, ev.Text))
			case tail.Kind == model.KindAssistant && tail.RequestID == requestID:
				tail.Text += ev.Text
				return s.replaceTail(tail)
			}
		}
		return s.append(model.NewAssistantMessage(requestID, ev.Text))

	case model.EventPresence:
		if tail, ok := s.tail(); ok && tail.Kind == model.KindPresence {
			tail.Text = ev.Text
			return s.replaceTail(tail)
		}
		return s.append(model.NewPresenceMessage(s.requestID(ev), ev.Text))

	case model.EventAction:
		if ev.Action == nil {
			return s
		}
		return s.dropPresence().append(model.NewActionMessage(s.requestID(ev), ev.Action))

	case model.EventImage:
		if ev.Image == nil {
			return s
		}
		img := *ev.Image
		return s.dropPresence().append(model.NewImageMessage(s.requestID(ev), &img))
	}

	// context and unknown events leave the log untouched
	return s
}

// AppendUser adds a user turn, superseding any leftover presence.
func (s State) AppendUser(content ...model.ContentItem) State {
	return s.dropPresence().append(model.NewUserMessage(content...))
}

// Fail records a terminal failure for the current turn. A trailing presence
// is replaced by the error entry.
func (s State) Fail(err error) State {
	if err == nil {
		return s
	}
	return s.dropPresence().append(model.NewErrorMessage(err.Error()))
}

// Cancel removes a trailing presence. It never records an error.
func (s State) Cancel() State {
	return s.dropPresence()
}

// Finish performs end-of-stream cleanup.
func (s State) Finish() State {
	return s.dropPresence()
}

// Retract removes a trailing user turn that was never sent.
func (s State) Retract() State {
	s = s.dropPresence()
	if tail, ok := s.tail(); ok && tail.Kind == model.KindUser {
		s.Messages = slices.Clone(s.Messages[:len(s.Messages)-1])
	}
	return s
}

// FollowedByAction reports whether the entry right after the message with the
// given id is an action.
func (s State) FollowedByAction(id string) bool {
	i := s.Index(id)
	if i < 0 || i+1 >= len(s.Messages) {
		return false
	}
	return s.Messages[i+1].Kind == model.KindAction
}

// Index returns the position of the message with the given id, or -1.
func (s State) Index(id string) int {
	return slices.IndexFunc(s.Messages, func(m model.Message) bool { return m.ID == id })
}

// Message looks up an entry by id.
func (s State) Message(id string) (model.Message, bool) {
	if i := s.Index(id); i >= 0 {
		return s.Messages[i], true
	}
	return model.Message{}, false
}

// Snapshot returns a deep copy of the log.
func (s State) Snapshot() []model.Message {
	return model.CloneMessages(s.Messages)
}

func (s State) requestID(ev model.Event) string {
	if ev.RequestID != "" {
		return ev.RequestID
	}
	return s.RequestID
}

func (s State) tail() (model.Message, bool) {
	if len(s.Messages) == 0 {
		return model.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// append and replaceTail always copy the backing array so that earlier
// states sharing it are never written through.
func (s State) append(m model.Message) State {
	msgs := make([]model.Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, m)
	return s
}

func (s State) replaceTail(m model.Message) State {
	msgs := slices.Clone(s.Messages)
	msgs[len(msgs)-1] = m
	s.Messages = msgs
	return s
}

func (s State) dropPresence() State {
	if tail, ok := s.tail(); ok && tail.Kind == model.KindPresence {
		s.Messages = slices.Clone(s.Messages[:len(s.Messages)-1])
	}
	return s
}
