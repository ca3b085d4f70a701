package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultLocalSize = 2000
	DefaultLocalTTL  = 30 * time.Minute
)

// Local is the process-local layer. It is private to one process and is not
// coherent with other instances; it may be emptied at any moment.
type Local interface {
	Get(key string) (string, bool)
	Put(key, value string)
	Remove(key string)
	Len() int
}

type localEntry struct {
	value   string
	expires time.Time
}

// MemoryLocal is a bounded map. When a Put would exceed the bound the whole map
// is dropped instead of evicting single entries.
type MemoryLocal struct {
	mu      sync.Mutex
	entries map[string]localEntry
	maxSize int
	ttl     time.Duration
	clock   clock.Clock
}

func NewMemoryLocal(maxSize int, ttl time.Duration, clk clock.Clock) *MemoryLocal {
	if maxSize <= 0 {
		maxSize = DefaultLocalSize
	}
	if ttl <= 0 {
		ttl = DefaultLocalTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLocal{
		entries: make(map[string]localEntry),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clk,
	}
}

func (m *MemoryLocal) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *MemoryLocal) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		m.entries = make(map[string]localEntry)
	}
	m.entries[key] = localEntry{value: value, expires: m.clock.Now().Add(m.ttl)}
}

func (m *MemoryLocal) Remove(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *MemoryLocal) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
