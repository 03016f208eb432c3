package crokinole

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// StoreRegistry hands out shared store connections keyed by address so the
// controller and operator tooling running in one process reuse a single
// client per redis instance. Entries are refcounted and closed when the last
// holder releases them.
type StoreRegistry struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
	logger  logging.Logger
}

type storeEntry struct {
	store     *RedisStore
	refCount  int64
	lastError error
}

// NewStoreRegistry creates an empty registry.
func NewStoreRegistry(logger logging.Logger) *StoreRegistry {
	return &StoreRegistry{
		entries: make(map[string]*storeEntry),
		logger:  logger,
	}
}

// GetStore returns the shared connection for addr, dialing it on first use.
// A failed dial is cached so repeated callers fail fast until the entry is
// released.
func (r *StoreRegistry) GetStore(ctx context.Context, addr string) (StateStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[addr]; ok {
		if entry.store == nil {
			return nil, fmt.Errorf("cached store connection error for %s: %w", addr, entry.lastError)
		}
		atomic.AddInt64(&entry.refCount, 1)
		return entry.store, nil
	}

	store, err := NewRedisStore(ctx, addr)
	entry := &storeEntry{store: store, lastError: err}
	if err != nil {
		r.entries[addr] = entry
		return nil, err
	}
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[addr] = entry

	if r.logger != nil {
		r.logger.Infof("Connected to state store at %s", addr)
	}
	return store, nil
}

// ReleaseStore drops one reference to addr's connection, closing it once the
// count reaches zero.
func (r *StoreRegistry) ReleaseStore(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[addr]
	if !ok {
		return
	}

	if atomic.AddInt64(&entry.refCount, -1) <= 0 {
		if entry.store != nil {
			if err := entry.store.Close(); err != nil && r.logger != nil {
				r.logger.Warnf("error closing shared store connection to %s: %v", addr, err)
			}
		}
		delete(r.entries, addr)
	}
}

// ForceClose closes addr's connection regardless of outstanding references.
func (r *StoreRegistry) ForceClose(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[addr]
	if !ok {
		return nil
	}
	delete(r.entries, addr)
	if entry.store != nil {
		return entry.store.Close()
	}
	return nil
}

// StoreStatus reports the reference count and liveness for addr.
func (r *StoreRegistry) StoreStatus(addr string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[addr]
	if !ok {
		return 0, false
	}
	return atomic.LoadInt64(&entry.refCount), entry.store != nil
}
