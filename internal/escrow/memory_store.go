package escrow

import (
	"context"
	"sync"

	"github.com/mbd888/midpay/internal/tx"
)

// MemoryStore keeps the latest record per transaction id in memory.
type MemoryStore struct {
	records map[string]*tx.Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*tx.Record),
	}
}

func (m *MemoryStore) Put(ctx context.Context, rec *tx.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*tx.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy so callers cannot mutate the stored record.
	cp := *rec
	return &cp, nil
}
