// Package ownership is an in-memory registry.EntryOwnership, used for
// tests and single-node deployments where no external entry service is
// wired in. Production deployments replace this with an adapter over the
// platform's actual entry service.
package ownership

import (
	"context"
	"sync"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Memory is an in-memory registry.EntryOwnership.
type Memory struct {
	mu     sync.RWMutex
	owners map[string]model.UserID
}

func NewMemory() *Memory {
	return &Memory{owners: make(map[string]model.UserID)}
}

// SetOwner records that userID owns entryID, for tests and local
// deployments to seed ownership.
func (m *Memory) SetOwner(entryID string, userID model.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[entryID] = userID
}

func (m *Memory) UserOwnsEntry(ctx context.Context, userID model.UserID, entryID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[entryID]
	return ok && owner == userID, nil
}
