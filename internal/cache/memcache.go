package cache

import (
	"context"
	"sync"
)

// Mem is an in-process Cache, the library default when no redis.Options
// are configured. It satisfies the same contract a redis-backed cache does,
// so the sync engine never branches on which is wired in.
type Mem struct {
	mu     sync.RWMutex
	tokens map[string]string
	quota  QuotaState
	hasQ   bool
}

func NewMem() *Mem {
	return &Mem{tokens: make(map[string]string)}
}

func (m *Mem) GetChangeToken(_ context.Context, zoneID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[zoneID]
	return t, ok, nil
}

func (m *Mem) PutChangeToken(_ context.Context, zoneID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[zoneID] = token
	return nil
}

func (m *Mem) GetQuota(_ context.Context) (QuotaState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quota, m.hasQ, nil
}

func (m *Mem) PutQuota(_ context.Context, q QuotaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = q
	m.hasQ = true
	return nil
}

var _ Cache = (*Mem)(nil)
