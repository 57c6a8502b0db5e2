// Package memstore is an in-process notifstore.Store used in tests and
// single-node deployments.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/webitel/journal-sync/internal/clock"
	"github.com/webitel/journal-sync/internal/domain/model"
	"github.com/webitel/journal-sync/internal/notifstore"
)

// Store is an in-memory notifstore.Store.
type Store struct {
	clock clock.Clock

	mu            sync.RWMutex
	notifications map[string]*model.Notification
	byUser        map[model.UserID][]string // append order, oldest first
	deliveryLog   map[string][]model.DeliveryLogEntry
	batches       map[string]*model.BatchStats
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		clock:         clk,
		notifications: make(map[string]*model.Notification),
		byUser:        make(map[model.UserID][]string),
		deliveryLog:   make(map[string][]model.DeliveryLogEntry),
		batches:       make(map[string]*model.BatchStats),
	}
}

func (s *Store) Create(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[n.ID] = &cp
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n.ID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return model.Notification{}, notifstore.ErrNotFound
	}
	return *n, nil
}

func (s *Store) ListByUser(ctx context.Context, userID model.UserID, filter notifstore.ListFilter) (notifstore.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	// newest-first: walk the append-ordered slice in reverse.
	var matched []model.Notification
	for i := len(ids) - 1; i >= 0; i-- {
		n := s.notifications[ids[i]]
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		matched = append(matched, *n)
	}

	start := 0
	if filter.Cursor != "" {
		offset, err := strconv.Atoi(filter.Cursor)
		if err != nil {
			return notifstore.Page{}, fmt.Errorf("notifstore/memstore: invalid cursor %q", filter.Cursor)
		}
		start = offset
	}
	if start > len(matched) {
		start = len(matched)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	page := notifstore.Page{Notifications: matched[start:end]}
	if end < len(matched) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string) (model.Notification, error) {
	return s.transition(id, func(n *model.Notification) error {
		if n.Status != model.StatusPending {
			return notifstore.ErrInvalidTransition
		}
		n.Status = model.StatusDelivered
		now := s.clock.Now()
		n.DeliveredAt = &now
		n.UpdatedAt = now
		return nil
	})
}

func (s *Store) MarkRead(ctx context.Context, id string) (model.Notification, error) {
	return s.transition(id, func(n *model.Notification) error {
		if n.Status != model.StatusDelivered {
			return notifstore.ErrInvalidTransition
		}
		n.Status = model.StatusRead
		now := s.clock.Now()
		n.ReadAt = &now
		n.UpdatedAt = now
		return nil
	})
}

func (s *Store) MarkFailed(ctx context.Context, id string) (model.Notification, error) {
	return s.transition(id, func(n *model.Notification) error {
		if n.Status.Terminal() {
			return notifstore.ErrInvalidTransition
		}
		n.Status = model.StatusFailed
		n.UpdatedAt = s.clock.Now()
		return nil
	})
}

func (s *Store) MarkExpired(ctx context.Context, id string) (model.Notification, error) {
	return s.transition(id, func(n *model.Notification) error {
		if n.Status.Terminal() {
			return notifstore.ErrInvalidTransition
		}
		n.Status = model.StatusExpired
		n.UpdatedAt = s.clock.Now()
		return nil
	})
}

func (s *Store) transition(id string, apply func(*model.Notification) error) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return model.Notification{}, notifstore.ErrNotFound
	}
	if err := apply(n); err != nil {
		return model.Notification{}, err
	}
	return *n, nil
}

func (s *Store) AppendDeliveryLog(ctx context.Context, entry model.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryLog[entry.NotificationID] = append(s.deliveryLog[entry.NotificationID], entry)
	return nil
}

func (s *Store) DeliveryLogFor(ctx context.Context, id string) ([]model.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]model.DeliveryLogEntry(nil), s.deliveryLog[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, stats model.BatchStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := stats
	s.batches[stats.BatchID] = &cp
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (model.BatchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return model.BatchStats{}, notifstore.ErrNotFound
	}
	return *b, nil
}

func (s *Store) IncrementBatchStats(ctx context.Context, batchID string, sent, delivered, failed, read int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return notifstore.ErrNotFound
	}
	b.Sent += sent
	b.Delivered += delivered
	b.Failed += failed
	b.Read += read
	return nil
}

func (s *Store) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, n := range s.notifications {
		if n.Status.Terminal() && n.UpdatedAt.Before(cutoff) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		n := s.notifications[id]
		delete(s.notifications, id)
		delete(s.deliveryLog, id)
		ids := s.byUser[n.UserID]
		for i, existing := range ids {
			if existing == id {
				s.byUser[n.UserID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	return len(removed), nil
}
