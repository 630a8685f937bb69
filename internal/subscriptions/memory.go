package subscriptions

import (
	"context"
	"sync"

	"github.com/bissquit/mention-relay/internal/domain"
)

// MemoryStore keeps records in process memory. It copies on every Load and
// Save, so it behaves like a real backend for the refresh protocol.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.Subscription
	saves   int
}

// NewMemoryStore returns a store seeded with records.
func NewMemoryStore(records ...domain.Subscription) *MemoryStore {
	m := &MemoryStore{records: make(map[string]domain.Subscription)}
	for _, rec := range records {
		m.records[rec.RecipientID] = rec.Clone()
	}
	return m
}

// Load returns a copy of the stored records.
func (m *MemoryStore) Load(_ context.Context) (map[string]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.records), nil
}

// Save replaces the stored records with a copy of records.
func (m *MemoryStore) Save(_ context.Context, records map[string]domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = cloneRecords(records)
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
