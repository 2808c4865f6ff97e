package query

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// RemoteCache is an optional shared tier behind the in-process memo.
type RemoteCache interface {
	GetResult(ctx context.Context, key string) (*Table, bool, error)
	SetResult(ctx context.Context, key string, table *Table, ttl time.Duration) error
}

type memoEntry struct {
	table   *Table
	expires time.Time
}

// memo is a bounded LRU with a per-entry TTL.
type memo struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func newMemo(size int, ttl time.Duration) *memo {
	if size <= 0 {
		size = 256
	}
	return &memo{
		cache: lru.New(size),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *memo) get(key string) (*Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(memoEntry)
	if m.ttl > 0 && m.now().After(entry.expires) {
		m.cache.Remove(key)
		return nil, false
	}
	return entry.table, true
}

func (m *memo) set(key string, table *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Add(key, memoEntry{table: table, expires: m.now().Add(m.ttl)})
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

func (m *memo) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Clear()
}
