package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/matchcast/backend/internal/models"
)

// MemoryBroadcastStore keeps broadcasts in process memory. It backs tests
// and local runs with STORE_DRIVER=memory.
type MemoryBroadcastStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]models.Broadcast
}

func NewMemoryBroadcastStore() *MemoryBroadcastStore {
	return &MemoryBroadcastStore{rows: map[uuid.UUID]models.Broadcast{}}
}

func (s *MemoryBroadcastStore) Create(_ context.Context, b *models.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.rows[b.ID] = *b
	return nil
}

func (s *MemoryBroadcastStore) FindByID(_ context.Context, id uuid.UUID) (*models.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryBroadcastStore) Save(_ context.Context, b *models.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[b.ID]; !ok {
		return ErrNotFound
	}
	s.rows[b.ID] = *b
	return nil
}

func (s *MemoryBroadcastStore) FindMany(_ context.Context, filter models.BroadcastFilter) ([]models.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Broadcast{}
	for _, b := range s.rows {
		if !matches(b, filter) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(b models.Broadcast, filter models.BroadcastFilter) bool {
	if filter.OrganizationID != "" && b.OrganizationID != filter.OrganizationID {
		return false
	}
	if len(filter.Statuses) == 0 {
		return true
	}
	for _, st := range filter.Statuses {
		if b.Status == st {
			return true
		}
	}
	return false
}
