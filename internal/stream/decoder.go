package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/sirupsen/logrus"

	"nebula-chat/internal/model"
	"nebula-chat/pkg/logger"
)

const doneMarker = "[DONE]"

// Decode turns an SSE body into typed assistant events.
//
// The sequence ends on io.EOF or a [DONE] marker. A transport failure or a
// server error event is yielded once as a *StreamError and ends the sequence.
// When ctx is done the sequence yields ctx.Err() and stops; if r is an
// io.Closer it is closed so that a blocked read returns immediately.
// Malformed action payloads are logged and dropped.
func Decode(ctx context.Context, r io.Reader) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		if c, ok := r.(io.Closer); ok {
			stop := context.AfterFunc(ctx, func() { _ = c.Close() })
			defer stop()
		}

		d := &decoder{reader: NewReader(r)}
		for {
			if err := ctx.Err(); err != nil {
				yield(model.Event{}, err)
				return
			}

			raw, err := d.reader.Next()
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(model.Event{}, ctxErr)
					return
				}
				if errors.Is(err, io.EOF) {
					return
				}
				yield(model.Event{}, &StreamError{Partial: d.partial.String(), Err: err})
				return
			}

			if strings.TrimSpace(string(raw.Data)) == doneMarker {
				return
			}

			ev, ok, err := d.decode(raw)
			if err != nil {
				yield(model.Event{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

type decoder struct {
	reader  *Reader
	partial strings.Builder
}

func (d *decoder) malformed(name string, err error) error {
	return &StreamError{
		Partial: d.partial.String(),
		Err:     fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err),
	}
}

// decode classifies one raw event. ok is false for events that are skipped.
func (d *decoder) decode(raw RawEvent) (ev model.Event, ok bool, err error) {
	switch model.EventType(raw.Event) {
	case model.EventInit:
		var p model.InitPayload
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return ev, false, d.malformed(raw.Event, err)
		}
		return model.Event{Type: model.EventInit, SessionID: p.SessionID, RequestID: p.RequestID}, true, nil

	case model.EventPresence:
		var p model.PresencePayload
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return ev, false, d.malformed(raw.Event, err)
		}
		return model.Event{
			Type:      model.EventPresence,
			SessionID: p.SessionID,
			RequestID: p.RequestID,
			Text:      p.Data,
		}, true, nil

	case model.EventDelta:
		var p model.DeltaPayload
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return ev, false, d.malformed(raw.Event, err)
		}
		d.partial.WriteString(p.V)
		return model.Event{Type: model.EventDelta, RequestID: p.RequestID, Text: p.V}, true, nil

	case model.EventAction:
		action, p, err := parseAction(raw.Data)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"request_id": p.RequestID,
				"type":       p.Type,
			}).Warnf("dropping action event: %v", err)
			return ev, false, nil
		}
		return model.Event{
			Type:      model.EventAction,
			SessionID: p.SessionID,
			RequestID: p.RequestID,
			Action:    action,
		}, true, nil

	case model.EventImage:
		var p model.ImagePayload
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return ev, false, d.malformed(raw.Event, err)
		}
		img := p.Data
		return model.Event{Type: model.EventImage, RequestID: p.RequestID, Image: &img}, true, nil

	case model.EventContext:
		var p model.ContextPayload
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return ev, false, d.malformed(raw.Event, err)
		}
		filter := p.Data.Clone()
		return model.Event{Type: model.EventContext, Context: &filter}, true, nil

	case model.EventError:
		var p model.ErrorPayload
		if err := json.Unmarshal(raw.Data, &p); err != nil || p.Message == "" {
			p.Message = strings.TrimSpace(string(raw.Data))
		}
		return ev, false, &StreamError{
			Partial: d.partial.String(),
			Code:    p.Code,
			Err:     fmt.Errorf("%w: %s", ErrServer, p.Message),
		}
	}

	logger.Debugf("skipping unknown stream event %q", raw.Event)
	return ev, false, nil
}

// parseAction decodes the action envelope and its JSON-string payload.
func parseAction(data []byte) (*model.Action, model.ActionPayload, error) {
	var p model.ActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, p, &ActionPayloadParseError{Raw: string(data), Err: err}
	}
	action, err := model.ParseAction(p.Type, p.Data)
	if err != nil {
		return nil, p, &ActionPayloadParseError{
			RequestID: p.RequestID,
			Type:      p.Type,
			Raw:       p.Data,
			Err:       err,
		}
	}
	return action, p, nil
}
