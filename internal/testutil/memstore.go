// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memValue struct {
	value   string
	expires time.Time
}

// MemStore is an in-memory durable store with TTL support driven by a clock.
type MemStore struct {
	mu    sync.Mutex
	data  map[string]memValue
	clock clock.Clock

	gets map[string]int
	// Err, when set, is returned by every operation.
	Err error
}

func NewMemStore(clk clock.Clock) *MemStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemStore{
		data:  make(map[string]memValue),
		clock: clk,
		gets:  make(map[string]int),
	}
}

func (s *MemStore) alive(v memValue) bool {
	return v.expires.IsZero() || s.clock.Now().Before(v.expires)
}

func (s *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", false, s.Err
	}
	s.gets[key]++
	v, ok := s.data[key]
	if !ok || !s.alive(v) {
		delete(s.data, key)
		return "", false, nil
	}
	return v.value, true, nil
}

func (s *MemStore) GetDel(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", false, s.Err
	}
	s.gets[key]++
	v, ok := s.data[key]
	delete(s.data, key)
	if !ok || !s.alive(v) {
		return "", false, nil
	}
	return v.value, true, nil
}

func (s *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.data[key] = s.entry(value, ttl)
	return nil
}

func (s *MemStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if v, ok := s.data[key]; ok && s.alive(v) {
		return false, nil
	}
	s.data[key] = s.entry(value, ttl)
	return true, nil
}

func (s *MemStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var keys []string
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) && s.alive(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemStore) entry(value string, ttl time.Duration) memValue {
	v := memValue{value: value}
	if ttl > 0 {
		v.expires = s.clock.Now().Add(ttl)
	}
	return v
}

// Raw returns the stored value ignoring Err, for assertions.
func (s *MemStore) Raw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok || !s.alive(v) {
		return "", false
	}
	return v.value, true
}

// GetCount reports how many times key was read from the store.
func (s *MemStore) GetCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[key]
}

func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
