package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"rag-agent/internal/domain"
)

// MemoryStore keeps sessions in process memory. Entries are evicted ttl after
// their last save.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/2)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*domain.Session, error) {
	if x, found := m.cache.Get(id); found {
		return x.(*domain.Session).Clone(), nil
	}
	return nil, fmt.Errorf("repository: Load %s: %w", id, domain.ErrSessionNotFound)
}

func (m *MemoryStore) Save(_ context.Context, session *domain.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}
	m.cache.Set(session.ID, session.Clone(), cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Len reports how many sessions are held, including expired entries not yet
// purged.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}
