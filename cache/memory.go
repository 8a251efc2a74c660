package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend is the process-local backend used in inline mode.
type MemoryBackend struct {
	store *gocache.Cache
}

// NewMemoryBackend builds a backend that sweeps expired entries every 10
// minutes in addition to lazy eviction on Get.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{store: gocache.New(DefaultTTL, 10*time.Minute)}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := v.([]byte)
	return data, ok
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.store.Set(key, value, ttl)
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) {
	m.store.Delete(key)
}
