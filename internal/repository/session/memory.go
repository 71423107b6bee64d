package session

import (
	"context"
	"sync"
	"time"

	"storefront-checkout/internal/domain"
)

type memoryEntry struct {
	value     []byte
	updatedAt time.Time
}

type memoryRepo struct {
	mu   sync.Mutex
	data map[string]map[string]memoryEntry
}

// NewMemory keeps state in process memory. Used for local runs and tests.
func NewMemory() Repository {
	return &memoryRepo{data: make(map[string]map[string]memoryEntry)}
}

func (r *memoryRepo) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[sessionID][key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (r *memoryRepo) Put(_ context.Context, sessionID, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[sessionID] == nil {
		r.data[sessionID] = make(map[string]memoryEntry)
	}
	r.data[sessionID][key] = memoryEntry{value: append([]byte(nil), value...), updatedAt: time.Now()}
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, sessionID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data[sessionID], key)
	return nil
}

func (r *memoryRepo) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, sessionID)
	return nil
}

func (r *memoryRepo) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var removed int64
	for id, entries := range r.data {
		newest := time.Time{}
		for _, e := range entries {
			if e.updatedAt.After(newest) {
				newest = e.updatedAt
			}
		}
		if newest.Before(cutoff) {
			removed += int64(len(entries))
			delete(r.data, id)
		}
	}
	return removed, nil
}

func (r *memoryRepo) Ping(context.Context) error {
	return nil
}
