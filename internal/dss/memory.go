package dss

import (
	"context"
	"sync"

	"github.com/invreserve/engine/internal/rerr"
)

// MemStore is an in-process DurableStock fake for engine and reaper unit
// tests, mirroring the role acs.MemStore plays for the counter store.
type MemStore struct {
	mu     sync.Mutex
	totals map[string]int64
}

func NewMemStore() *MemStore {
	return &MemStore{totals: make(map[string]int64)}
}

func (m *MemStore) ConditionalDecrement(ctx context.Context, sku string, qty int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.totals[sku]
	if cur < qty {
		return 0, &rerr.ConflictError{Reason: "insufficient_total", ExistingQty: cur}
	}
	cur -= qty
	m.totals[sku] = cur
	return cur, nil
}

func (m *MemStore) Total(ctx context.Context, sku string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[sku], nil
}

func (m *MemStore) Seed(ctx context.Context, sku string, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[sku] = total
	return nil
}
