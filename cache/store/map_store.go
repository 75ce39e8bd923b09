package store

import (
	"context"
	"sync"
	"time"
)

// MapStore 进程内存储，测试与单机部署用
type MapStore[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]mapEntry[V]
}

type mapEntry[V any] struct {
	value    V
	expireAt time.Time // 零值表示不过期
}

func NewMapStoreWithOptions[K comparable, V any]() *MapStore[K, V] {
	return &MapStore[K, V]{m: make(map[K]mapEntry[V])}
}

func (s *MapStore[K, V]) Set(ctx context.Context, key K, value V, opts ...SetOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.IfNotExist {
		if entry, ok := s.m[key]; ok && !entry.expired() {
			return ErrConditionFailed
		}
	}

	entry := mapEntry[V]{value: value}
	if options.Expiration > 0 {
		entry.expireAt = time.Now().Add(options.Expiration)
	}
	s.m[key] = entry
	return nil
}

func (s *MapStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	s.mu.RLock()
	entry, ok := s.m[key]
	s.mu.RUnlock()

	if !ok || entry.expired() {
		var zero V
		return zero, ErrKeyNotFound
	}
	return entry.value, nil
}

func (s *MapStore[K, V]) Del(ctx context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MapStore[K, V]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = nil
	return nil
}

func (e mapEntry[V]) expired() bool {
	return !e.expireAt.IsZero() && time.Now().After(e.expireAt)
}
