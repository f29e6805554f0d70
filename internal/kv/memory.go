package kv

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore implements Store with an in-process map. It exists for
// single-instance deployments and tests; it does not share state across
// processes.
type MemoryStore struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]memEntry

	sweepInterval time.Duration
	stop          chan struct{}
	stopped       chan struct{}
}

type memEntry struct {
	key       Key
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore starts a MemoryStore whose background sweeper reclaims
// expired entries every sweepInterval. A sweepInterval of zero defaults to
// one second.
func NewMemoryStore(logger *zap.Logger, sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	s := &MemoryStore{
		logger:        logger.Named("kv.store.memory"),
		entries:       make(map[string]memEntry),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements Store.Set.
func (s *MemoryStore) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.String()] = memEntry{key: key, value: v, expiresAt: expiresAt}
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.String())
	return nil
}

// List implements Store.List.
func (s *MemoryStore) List(_ context.Context, prefix Key) ([]Entry, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if !e.key.HasPrefix(prefix) {
			continue
		}
		v := make([]byte, len(e.value))
		copy(v, e.value)
		out = append(out, Entry{Key: e.key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	close(s.stop)
	<-s.stopped
	return nil
}
