// Package directory is an in-memory Directory + DeviceTokenStore, used
// for tests and single-node deployments where no external user directory
// or device-token registry is wired in. Production deployments replace
// this with an adapter over the platform's actual directory service.
package directory

import (
	"context"
	"sync"

	"github.com/webitel/journal-sync/internal/channel"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// Memory is an in-memory channel.Directory and channel.DeviceTokenStore.
type Memory struct {
	mu     sync.RWMutex
	emails map[model.UserID]string
	tokens map[model.UserID][]channel.DeviceToken
}

func NewMemory() *Memory {
	return &Memory{
		emails: make(map[model.UserID]string),
		tokens: make(map[model.UserID][]channel.DeviceToken),
	}
}

func (m *Memory) SetEmail(userID model.UserID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[userID] = email
}

func (m *Memory) RegisterToken(userID model.UserID, token channel.DeviceToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = append(m.tokens[userID], token)
}

func (m *Memory) EmailFor(ctx context.Context, userID model.UserID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emails[userID], nil
}

func (m *Memory) TokensFor(ctx context.Context, userID model.UserID) ([]channel.DeviceToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]channel.DeviceToken(nil), m.tokens[userID]...), nil
}
