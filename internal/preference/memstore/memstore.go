// Package memstore is an in-process preference.Store backed by a mutex
// guarded map, used in tests and single-node deployments.
package memstore

import (
	"context"
	"sync"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Store is an in-memory preference.Store.
type Store struct {
	mu    sync.RWMutex
	prefs map[model.UserID]model.Preferences
}

func New() *Store {
	return &Store{prefs: make(map[model.UserID]model.Preferences)}
}

func (s *Store) Get(ctx context.Context, userID model.UserID) (model.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	return model.DefaultPreferences(userID), nil
}

func (s *Store) Upsert(ctx context.Context, prefs model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.UserID] = prefs
	return nil
}
