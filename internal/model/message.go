package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the entries of a conversation log.
type Kind string

const (
	KindUser      Kind = "user"
	KindPresence  Kind = "presence"
	KindAssistant Kind = "assistant"
	KindAction    Kind = "action"
	KindImage     Kind = "image"
	KindError     Kind = "error"
)

type ContentType string

const (
	ContentText        ContentType = "text"
	ContentImage       ContentType = "image"
	ContentTransaction ContentType = "transaction"
)

// ContentItem is one piece of a user message.
type ContentItem struct {
	Type            ContentType `json:"type"`
	Text            string      `json:"text,omitempty"`
	ImageURL        string      `json:"image_url,omitempty"`
	TransactionHash string      `json:"transaction_hash,omitempty"`
	ChainID         int64       `json:"chain_id,omitempty"`
}

func TextContent(text string) ContentItem {
	return ContentItem{Type: ContentText, Text: text}
}

func ImageContent(url string) ContentItem {
	return ContentItem{Type: ContentImage, ImageURL: url}
}

func TransactionContent(hash string, chainID int64) ContentItem {
	return ContentItem{Type: ContentTransaction, TransactionHash: hash, ChainID: chainID}
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Message is a tagged variant: which fields are set depends on Kind.
//
//	user       Content
//	presence   Text (transient)
//	assistant  Text, RequestID
//	action     Action, RequestID
//	image      Image, RequestID
//	error      Text
type Message struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	RequestID string        `json:"request_id,omitempty"`
	Content   []ContentItem `json:"content,omitempty"`
	Text      string        `json:"text,omitempty"`
	Action    *Action       `json:"action,omitempty"`
	Image     *Image        `json:"image,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func newMessage(kind Kind) Message {
	return Message{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

func NewUserMessage(content ...ContentItem) Message {
	m := newMessage(KindUser)
	m.Content = slices.Clone(content)
	return m
}

func NewPresenceMessage(requestID, text string) Message {
	m := newMessage(KindPresence)
	m.RequestID = requestID
	m.Text = text
	return m
}

func NewAssistantMessage(requestID, text string) Message {
	m := newMessage(KindAssistant)
	m.RequestID = requestID
	m.Text = text
	return m
}

func NewActionMessage(requestID string, action *Action) Message {
	m := newMessage(KindAction)
	m.RequestID = requestID
	m.Action = action
	return m
}

func NewImageMessage(requestID string, image *Image) Message {
	m := newMessage(KindImage)
	m.RequestID = requestID
	m.Image = image
	return m
}

func NewErrorMessage(text string) Message {
	m := newMessage(KindError)
	m.Text = text
	return m
}

// Clone copies the message so that callers can mutate it freely.
func (m Message) Clone() Message {
	m.Content = slices.Clone(m.Content)
	if m.Image != nil {
		img := *m.Image
		m.Image = &img
	}
	// actions are never mutated after decoding
	return m
}

// PlainText flattens the message for terminals and session titles.
func (m Message) PlainText() string {
	switch m.Kind {
	case KindUser:
		parts := make([]string, 0, len(m.Content))
		for _, item := range m.Content {
			switch item.Type {
			case ContentText:
				parts = append(parts, item.Text)
			case ContentImage:
				parts = append(parts, "[image] "+item.ImageURL)
			case ContentTransaction:
				parts = append(parts, "[transaction] "+item.TransactionHash)
			}
		}
		return strings.Join(parts, "\n")
	case KindAction:
		if m.Action == nil {
			return ""
		}
		return "[" + string(m.Action.Type) + "]"
	case KindImage:
		if m.Image == nil {
			return ""
		}
		return "[image] " + m.Image.URL
	default:
		return m.Text
	}
}

// CloneMessages deep-copies a log.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}
