package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process. Transactions run optimistically and
// validate their read set at commit.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Address]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Address]Entry)}
}

func (m *MemoryStore) fetch(addr Address) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[addr]
	if !ok {
		return Entry{}, false, nil
	}
	e.Data = append([]byte(nil), e.Data...)
	return e, true, nil
}

func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := NewBufferedTx(m.fetch, false)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	writes := tx.Writes()
	if len(writes) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range tx.Reads() {
		if m.entries[r.Addr].Version != r.Version {
			return ErrConflict
		}
	}
	for _, w := range writes {
		m.entries[w.Addr] = w.Entry
	}
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(NewBufferedTx(m.fetch, true))
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
