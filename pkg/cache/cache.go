// Package cache provides the cache-aside layer the typed clients read
// through. Values are JSON-serialized so any process-wide key-value store
// with expiry semantics can back the Store interface; the in-memory store in
// this package is the default. Keys are built from namespaced, individually
// encoded parts so user-supplied track and artist names cannot collide with
// or break the key namespace.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Store is the minimal contract a cache backend must satisfy. Both methods
// must be safe for concurrent use; last write wins.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

// Key builds a deterministic, collision-safe cache key. Each part is base64
// encoded before joining so a delimiter inside one part can never alias a
// key built from differently split parts.
func Key(namespace string, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(base64.RawURLEncoding.EncodeToString([]byte(p)))
	}
	return b.String()
}

// GetOrFetch looks key up in store and returns the cached value on an
// unexpired hit. On a miss it invokes producer and, when the result is
// non-empty, writes it back with the given ttl. Producer errors are returned
// unchanged and nothing is cached for them.
func GetOrFetch[T any](ctx context.Context, store Store, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	if raw, ok := store.Get(key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		// A value that no longer unmarshals is treated as a miss and
		// overwritten below.
	}

	v, err := producer(ctx)
	if err != nil {
		return v, err
	}
	if !isEmpty(v) {
		if raw, err := json.Marshal(v); err == nil {
			store.Set(key, raw, ttl)
		}
	}
	return v, nil
}

// isEmpty reports whether v carries no data worth caching: nil or empty
// slices/maps/strings and zero values.
func isEmpty(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store with passive expiry: entries are dropped
// when a read observes them expired, no eviction goroutine is required for
// correctness.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Get returns the value stored under key if it has not expired.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; another writer may have
		// replaced the entry meanwhile.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing,
// matching the "ephemeral data is not cached" policy.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// Len reports the number of live entries, counting expired ones that have
// not yet been read.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
