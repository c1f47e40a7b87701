package storage

import (
	"nebula-chat/internal/model"
	"nebula-chat/pkg/logger"
)

// Overlay merges the remote session list with local view overrides: sessions
// created locally but not yet listed remotely are added, sessions deleted
// locally (or soft-deleted remotely) are removed. The result is newest first.
func Overlay(remote []*model.Session, store Storage) []*model.Session {
	seen := make(map[string]struct{}, len(remote))
	out := make([]*model.Session, 0, len(remote))

	for _, s := range remote {
		if s == nil || s.DeletedAt != nil || store.IsDeleted(s.ID) {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}

	local, err := store.ListSessions()
	if err != nil {
		logger.Warnf("local session view unavailable: %v", err)
		local = nil
	}
	for _, s := range local {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		out = append(out, s)
	}

	sortNewestFirst(out)
	return out
}
