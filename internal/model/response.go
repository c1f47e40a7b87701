package model

import "time"

// Envelope is the {"result": ...} wrapper used by every conversation endpoint.
type Envelope[T any] struct {
	Result T `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type DeleteResult struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Stream payloads, one per SSE event name.

type InitPayload struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

type PresencePayload struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Data      string `json:"data"`
}

type DeltaPayload struct {
	V         string `json:"v"`
	RequestID string `json:"request_id,omitempty"`
}

type ActionPayload struct {
	SessionID string     `json:"session_id"`
	RequestID string     `json:"request_id"`
	Type      ActionType `json:"type"`
	Data      string     `json:"data"`
}

type ImagePayload struct {
	RequestID string `json:"request_id"`
	Data      Image  `json:"data"`
}

type ContextPayload struct {
	Data ContextFilter `json:"data"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
