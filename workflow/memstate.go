package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryState is the in-process StateStore used when no valkey tier is
// configured. Cooldowns and survey state then survive only as long as
// the process does.
type MemoryState struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (m *MemoryState) get(key string) ([]byte, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.now().After(entry.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryState) TrySetCooldown(_ context.Context, key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false
	}
	m.entries[key] = memEntry{value: []byte("1"), expires: m.now().Add(ttl)}
	return true
}

func (m *MemoryState) CooldownActive(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.get(key)
	return ok
}

func (m *MemoryState) SetJSON(_ context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: raw, expires: m.now().Add(ttl)}
}

func (m *MemoryState) GetJSON(_ context.Context, key string, out any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (m *MemoryState) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}
