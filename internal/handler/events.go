package handler

import (
	"encoding/json"
	"fmt"

	"nebula-chat/internal/model"
	"nebula-chat/internal/utils"
)

// writeEvent encodes ev with the payload shape of its event name.
func writeEvent(sse *utils.SSEWriter, ev model.Event) error {
	var payload any
	switch ev.Type {
	case model.EventInit:
		payload = model.InitPayload{SessionID: ev.SessionID, RequestID: ev.RequestID}
	case model.EventPresence:
		payload = model.PresencePayload{SessionID: ev.SessionID, RequestID: ev.RequestID, Data: ev.Text}
	case model.EventDelta:
		payload = model.DeltaPayload{V: ev.Text, RequestID: ev.RequestID}
	case model.EventAction:
		data, err := actionData(ev.Action)
		if err != nil {
			return err
		}
		payload = model.ActionPayload{
			SessionID: ev.SessionID,
			RequestID: ev.RequestID,
			Type:      ev.Action.Type,
			Data:      data,
		}
	case model.EventImage:
		if ev.Image == nil {
			return fmt.Errorf("image event without image")
		}
		payload = model.ImagePayload{RequestID: ev.RequestID, Data: *ev.Image}
	case model.EventContext:
		if ev.Context == nil {
			return fmt.Errorf("context event without filter")
		}
		payload = model.ContextPayload{Data: ev.Context.Clone()}
	default:
		return fmt.Errorf("unsupported event %q", ev.Type)
	}
	return sse.WriteJSON(string(ev.Type), payload)
}

func writeError(sse *utils.SSEWriter, code string, err error) error {
	return sse.WriteJSON(string(model.EventError), model.ErrorPayload{Code: code, Message: err.Error()})
}

// actionData renders the JSON string carried in the data field of an action
// event.
func actionData(a *model.Action) (string, error) {
	if a == nil {
		return "", fmt.Errorf("action event without action")
	}

	var v any
	switch a.Type {
	case model.ActionSignTransaction:
		v = a.Transaction
	case model.ActionSignSwap:
		v = a.Swap
	default:
		return "", fmt.Errorf("%w: %q", model.ErrUnknownAction, a.Type)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
