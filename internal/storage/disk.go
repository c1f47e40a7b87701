package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"nebula-chat/internal/model"
	"nebula-chat/pkg/logger"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// DiskStorage keeps one JSON file per session and per transcript, an index
// file for listings and a tombstone file for deletions. Writes go through a
// temp file and rename.
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Session
	cacheSize int
	deleted   map[string]time.Time
}

type SessionIndex struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Session),
		cacheSize: cacheSize,
		deleted:   make(map[string]time.Time),
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadTombstones(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Debugf("disk storage ready at %s", d.dataDir)
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "sessions"),
		filepath.Join(d.dataDir, "messages"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) indexPath() string     { return filepath.Join(d.dataDir, "sessions.json") }
func (d *DiskStorage) tombstonePath() string { return filepath.Join(d.dataDir, "deleted.json") }

func (d *DiskStorage) sessionPath(id string) string {
	return filepath.Join(d.dataDir, "sessions", id+".json")
}

func (d *DiskStorage) messagesPath(id string) string {
	return filepath.Join(d.dataDir, "messages", id+".json")
}

// loadIndex warms the cache with the most recently updated sessions.
func (d *DiskStorage) loadIndex() error {
	if _, err := os.Stat(d.indexPath()); os.IsNotExist(err) {
		return writeJSON(d.indexPath(), []*SessionIndex{})
	}

	var indexes []*SessionIndex
	if err := readJSON(d.indexPath(), &indexes); err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		session, err := d.loadSessionFromFile(index.ID)
		if err != nil {
			logger.Warnf("skipping session %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = session
	}

	return nil
}

func (d *DiskStorage) loadTombstones() error {
	if _, err := os.Stat(d.tombstonePath()); os.IsNotExist(err) {
		return nil
	}
	return readJSON(d.tombstonePath(), &d.deleted)
}

func (d *DiskStorage) loadSessionFromFile(sessionID string) (*model.Session, error) {
	var session model.Session
	if err := readJSON(d.sessionPath(sessionID), &session); err != nil {
		return nil, err
	}

	messages, err := d.loadMessagesFromFile(sessionID)
	if err != nil {
		logger.Warnf("failed to load transcript of session %s: %v", sessionID, err)
		messages = nil
	}

	session.History = messages
	return &session, nil
}

func (d *DiskStorage) loadMessagesFromFile(sessionID string) ([]model.Message, error) {
	if _, err := os.Stat(d.messagesPath(sessionID)); os.IsNotExist(err) {
		return nil, nil
	}

	var messages []model.Message
	if err := readJSON(d.messagesPath(sessionID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (d *DiskStorage) saveSessionToFile(session *model.Session) error {
	return writeJSON(d.sessionPath(session.ID), session.Summary())
}

func (d *DiskStorage) SaveSession(session *model.Session) error {
	if session == nil || !validID.MatchString(session.ID) {
		return ErrInvalidID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stored := session.Summary()
	stored.History = model.CloneMessages(session.History)

	if err := d.saveSessionToFile(stored); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if stored.History != nil {
		if err := writeJSON(d.messagesPath(stored.ID), stored.History); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	} else if prev, err := d.loadMessagesFromFile(stored.ID); err == nil {
		stored.History = prev
	}

	if _, ok := d.deleted[stored.ID]; ok {
		delete(d.deleted, stored.ID)
		if err := writeJSON(d.tombstonePath(), d.deleted); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	if err := d.updateSessionIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[stored.ID] = stored
	d.evictCache()

	return nil
}

func (d *DiskStorage) GetSession(sessionID string) (*model.Session, error) {
	if !validID.MatchString(sessionID) {
		return nil, ErrSessionNotFound
	}

	d.mu.RLock()
	if session, exists := d.cache[sessionID]; exists {
		out := session.Summary()
		out.History = model.CloneMessages(session.History)
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	session, err := d.loadSessionFromFile(sessionID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[sessionID] = session
	d.evictCache()
	d.mu.Unlock()

	out := session.Summary()
	out.History = model.CloneMessages(session.History)
	return out, nil
}

func (d *DiskStorage) DeleteSession(sessionID string) error {
	if !validID.MatchString(sessionID) {
		return ErrSessionNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.removeFiles(sessionID, true)
}

func (d *DiskStorage) removeFiles(sessionID string, mustExist bool) error {
	if _, err := os.Stat(d.sessionPath(sessionID)); os.IsNotExist(err) {
		if mustExist {
			return ErrSessionNotFound
		}
	} else if err := os.Remove(d.sessionPath(sessionID)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := os.Remove(d.messagesPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, sessionID)

	return d.updateSessionIndex()
}

func (d *DiskStorage) MarkDeleted(sessionID string, at time.Time) error {
	if !validID.MatchString(sessionID) {
		return ErrInvalidID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.removeFiles(sessionID, false); err != nil {
		return err
	}

	d.deleted[sessionID] = at
	if err := writeJSON(d.tombstonePath(), d.deleted); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) IsDeleted(sessionID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.deleted[sessionID]
	return ok
}

func (d *DiskStorage) ListSessions() ([]*model.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var indexes []*SessionIndex
	if err := readJSON(d.indexPath(), &indexes); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	sessions := make([]*model.Session, 0, len(indexes))
	for _, index := range indexes {
		sessions = append(sessions, &model.Session{
			ID:        index.ID,
			Title:     index.Title,
			IsPublic:  index.IsPublic,
			CreatedAt: index.CreatedAt,
			UpdatedAt: index.UpdatedAt,
		})
	}

	sortNewestFirst(sessions)
	return sessions, nil
}

func (d *DiskStorage) SaveMessages(sessionID string, messages []model.Message) error {
	if !validID.MatchString(sessionID) {
		return ErrSessionNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	session, exists := d.cache[sessionID]
	if !exists {
		var err error
		session, err = d.loadSessionFromFile(sessionID)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		d.cache[sessionID] = session
	}

	session.History = model.CloneMessages(messages)
	session.UpdatedAt = time.Now()

	if err := writeJSON(d.messagesPath(sessionID), session.History); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.saveSessionToFile(session); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return d.updateSessionIndex()
}

func (d *DiskStorage) GetMessages(sessionID string) ([]model.Message, error) {
	session, err := d.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return session.History, nil
}

// updateSessionIndex rebuilds sessions.json from the session files.
func (d *DiskStorage) updateSessionIndex() error {
	files, err := os.ReadDir(filepath.Join(d.dataDir, "sessions"))
	if err != nil {
		return err
	}

	indexes := make([]*SessionIndex, 0, len(files))
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		var session model.Session
		if err := readJSON(filepath.Join(d.dataDir, "sessions", file.Name()), &session); err != nil {
			logger.Warnf("skipping %s while indexing: %v", file.Name(), err)
			continue
		}

		indexes = append(indexes, &SessionIndex{
			ID:        session.ID,
			Title:     session.Title,
			IsPublic:  session.IsPublic,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		})
	}

	return writeJSON(d.indexPath(), indexes)
}

// evictCache drops the least recently updated sessions beyond cacheSize.
func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	entries := make([]cacheEntry, 0, len(d.cache))
	for id, session := range d.cache {
		entries = append(entries, cacheEntry{id: id, updatedAt: session.UpdatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	for _, e := range entries[:len(d.cache)-d.cacheSize] {
		delete(d.cache, e.id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Session)
	return nil
}

// Backup copies sessions, transcripts, the index and tombstones into
// backup/backup_<unix>.
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))

	for _, dir := range []string{"sessions", "messages"} {
		dst := filepath.Join(backupDir, dir)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if err := copyDir(filepath.Join(d.dataDir, dir), dst); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	for _, name := range []string{"sessions.json", "deleted.json"} {
		src := filepath.Join(d.dataDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(backupDir, name)); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	logger.Infof("backup written to %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
