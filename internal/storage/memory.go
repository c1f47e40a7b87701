package storage

import (
	"sort"
	"sync"
	"time"

	"nebula-chat/internal/model"
)

type MemoryStorage struct {
	sessions map[string]*model.Session
	deleted  map[string]time.Time
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*model.Session),
		deleted:  make(map[string]time.Time),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) SaveSession(session *model.Session) error {
	if session == nil || session.ID == "" {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := session.Summary()
	stored.History = model.CloneMessages(session.History)
	if stored.History == nil {
		if prev, ok := m.sessions[session.ID]; ok {
			stored.History = prev.History
		}
	}
	m.sessions[session.ID] = stored
	delete(m.deleted, session.ID)
	return nil
}

func (m *MemoryStorage) GetSession(sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	out := session.Summary()
	out.History = model.CloneMessages(session.History)
	return out, nil
}

func (m *MemoryStorage) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStorage) MarkDeleted(sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	m.deleted[sessionID] = at
	return nil
}

func (m *MemoryStorage) IsDeleted(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.deleted[sessionID]
	return ok
}

func (m *MemoryStorage) ListSessions() ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session.Summary())
	}
	sortNewestFirst(sessions)

	return sessions, nil
}

func (m *MemoryStorage) SaveMessages(sessionID string, messages []model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.History = model.CloneMessages(messages)
	session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) GetMessages(sessionID string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return model.CloneMessages(session.History), nil
}

func sortNewestFirst(sessions []*model.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
