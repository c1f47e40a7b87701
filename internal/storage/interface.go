package storage

import (
	"time"

	"nebula-chat/internal/model"
)

// Storage keeps sessions and their transcripts. The chat client uses it as a
// local view store (created sessions, deletion tombstones, cached
// transcripts); the development server uses it as its session database.
type Storage interface {
	// SaveSession inserts or replaces a session. History is stored through
	// SaveMessages when non-empty.
	SaveSession(session *model.Session) error
	// GetSession returns the session with its history.
	GetSession(sessionID string) (*model.Session, error)
	// ListSessions returns summaries without history, newest first.
	ListSessions() ([]*model.Session, error)
	DeleteSession(sessionID string) error

	// MarkDeleted removes the session and remembers the tombstone so that
	// stale remote listings can be filtered.
	MarkDeleted(sessionID string, at time.Time) error
	IsDeleted(sessionID string) bool

	SaveMessages(sessionID string, messages []model.Message) error
	GetMessages(sessionID string) ([]model.Message, error)

	Init() error
	Close() error
	Backup() error
}
