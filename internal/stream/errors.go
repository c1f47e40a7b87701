package stream

import (
	"errors"
	"fmt"

	"nebula-chat/internal/model"
)

var (
	ErrLineTooLong    = errors.New("stream line exceeds maximum size")
	ErrMalformedEvent = errors.New("malformed stream event")
	ErrServer         = errors.New("server reported an error")
)

// StreamError is a transport or server failure that ended the stream,
// preserving the assistant text received before it.
type StreamError struct {
	Partial string
	Code    string
	Err     error
}

func (e *StreamError) Error() string {
	msg := e.Err.Error()
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %s", len(e.Partial), msg)
	}
	return "stream error: " + msg
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ActionPayloadParseError reports an action event whose JSON data could not
// be decoded. The decoder logs and drops these.
type ActionPayloadParseError struct {
	RequestID string
	Type      model.ActionType
	Raw       string
	Err       error
}

func (e *ActionPayloadParseError) Error() string {
	return fmt.Sprintf("parse %s action payload (request %s): %v", e.Type, e.RequestID, e.Err)
}

func (e *ActionPayloadParseError) Unwrap() error {
	return e.Err
}
