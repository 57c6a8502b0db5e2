// Package entitystore is an in-memory sync.EntityStore used in tests and
// single-node deployments where no external data store is wired in.
package entitystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Memory is an in-memory sync.EntityStore. Ownership is established the
// first time an entity is persisted for a user; afterward any other
// user's change to the same (kind, id) is rejected.
type Memory struct {
	mu      sync.RWMutex
	owners  map[string]model.UserID
	entries map[string]model.SyncChange
}

func NewMemory() *Memory {
	return &Memory{
		owners:  make(map[string]model.UserID),
		entries: make(map[string]model.SyncChange),
	}
}

func (m *Memory) UserOwnsEntity(ctx context.Context, userID model.UserID, entityKind, entityID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[key(entityKind, entityID)]
	if !ok {
		return true, nil // first writer establishes ownership on Persist
	}
	return owner == userID, nil
}

func (m *Memory) Persist(ctx context.Context, change model.SyncChange) error {
	k := key(change.EntityKind, change.EntityID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if change.Op == model.OpDelete {
		delete(m.entries, k)
		delete(m.owners, k)
		return nil
	}
	m.owners[k] = change.UserID
	m.entries[k] = change
	return nil
}

func key(kind, id string) string { return fmt.Sprintf("%s:%s", kind, id) }
