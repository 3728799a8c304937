package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScriptHandler implements a Script's semantics in-process for MemStore. It
// must run under MemStore's single lock, giving it the same linearisation
// guarantee a real EVAL/EVALSHA round-trip provides against a real server.
type ScriptHandler func(m *MemStore, keys []string, args []string) ([]string, error)

// MemStore is an in-process, mutex-guarded Store used by unit and property
// tests so the fan-out concurrency properties can be exercised without a
// running Redis/Valkey server. It satisfies the same atomicity contract as
// ValkeyStore: RunScript executes its handler while holding the single
// store-wide lock, so it is the "equivalent optimistic-transaction
// mechanism" the store design allows for backends without native scripting.
type MemStore struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	lists    map[string][]string
	handlers map[string]ScriptHandler
	waiters  chan struct{} // closed and replaced whenever any list changes, to wake BLPop waiters
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		hashes:   make(map[string]map[string]string),
		lists:    make(map[string][]string),
		handlers: make(map[string]ScriptHandler),
		waiters:  make(chan struct{}),
	}
}

// RegisterScript installs the Go implementation of a named script. Callers
// (internal/scenario) register the same set of names they pass to
// RunScript so tests exercise real fan-out logic, not a stub.
func (m *MemStore) RegisterScript(name string, handler ScriptHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = handler
}

func (m *MemStore) HashSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemStore) HashGetAll(_ context.Context, key string) (map[string]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, true, nil
}

func (m *MemStore) HashDelete(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashDeleteLocked(key, field)
	return nil
}

func (m *MemStore) hashDeleteLocked(key, field string) {
	if h, ok := m.hashes[key]; ok {
		delete(h, field)
	}
}

func (m *MemStore) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	m.wake()
	return nil
}

func (m *MemStore) LPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lpopLocked(key)
}

func (m *MemStore) lpopLocked(key string) (string, bool, error) {
	l := m.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[0]
	m.lists[key] = l[1:]
	return v, true, nil
}

func (m *MemStore) BLPop(ctx context.Context, keys []string, timeout time.Duration) (string, string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		for _, k := range keys {
			if v, ok, _ := m.lpopLocked(k); ok {
				m.mu.Unlock()
				return k, v, true, nil
			}
		}
		wait := m.waiters
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return "", "", false, nil
		}
		var timer *time.Timer
		var timerC <-chan time.Time
		if timeout > 0 {
			timer = time.NewTimer(remaining)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return "", "", false, ctx.Err()
		case <-wait:
			// a push happened; loop and re-check
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			return "", "", false, nil
		}
	}
}

// wake must be called with mu held; it notifies any blocked BLPop callers.
func (m *MemStore) wake() {
	close(m.waiters)
	m.waiters = make(chan struct{})
}

func (m *MemStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *MemStore) RunScript(_ context.Context, script Script, keys []string, args []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handler, ok := m.handlers[script.Name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for script %q", script.Name)
	}
	result, err := handler(m, keys, args)
	if err == nil {
		m.wake()
	}
	return result, err
}

func (m *MemStore) Close() error { return nil }

// Locked helpers exposed for ScriptHandler implementations operating under
// the same lock RunScript already holds.

func (m *MemStore) HashGetAllLocked(key string) (map[string]string, bool) {
	h, ok := m.hashes[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, true
}

func (m *MemStore) HashSetLocked(key string, fields map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (m *MemStore) RPushLocked(key string, values ...string) {
	m.lists[key] = append(m.lists[key], values...)
}

func (m *MemStore) HashDeleteLocked(key, field string) {
	m.hashDeleteLocked(key, field)
}
