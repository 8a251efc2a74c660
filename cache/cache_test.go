package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	a := Key("doc", []string{"https://example.org", "5000"}, map[string]string{"b": "2", "a": "1"})
	b := Key("doc", []string{"https://example.org", "5000"}, map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Type participates in the key.
	c := Key("text", []string{"https://example.org", "5000"}, nil)
	assert.NotEqual(t, a, c)
}

func TestTTLFor(t *testing.T) {
	tests := []struct {
		cacheType string
		want      time.Duration
	}{
		{"doc", 24 * time.Hour},
		{"text", 24 * time.Hour},
		{"embedding", 7 * 24 * time.Hour},
		{"source_score", time.Hour},
		{"extraction", 24 * time.Hour},
		{"unknown", DefaultTTL},
	}
	for _, tt := range tests {
		t.Run(tt.cacheType, func(t *testing.T) {
			assert.Equal(t, tt.want, TTLFor(tt.cacheType))
		})
	}
}

func TestMemoryBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend())

	c.Set(ctx, "doc", []byte("page text"), "https://example.org", "5000")

	got, ok := c.Get(ctx, "doc", "https://example.org", "5000")
	require.True(t, ok)
	assert.Equal(t, []byte("page text"), got)

	_, ok = c.Get(ctx, "doc", "https://example.org", "9999")
	assert.False(t, ok)

	c.Delete(ctx, "doc", "https://example.org", "5000")
	_, ok = c.Get(ctx, "doc", "https://example.org", "5000")
	assert.False(t, ok)
}

func TestRedisBackend_RoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	backend := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	c := New(backend)

	c.Set(ctx, "source_score", []byte(`{"quality":0.9}`), "arxiv.org")
	got, ok := c.Get(ctx, "source_score", "arxiv.org")
	require.True(t, ok)
	assert.JSONEq(t, `{"quality":0.9}`, string(got))

	// source_score entries expire after an hour.
	mr.FastForward(time.Hour + time.Minute)
	_, ok = c.Get(ctx, "source_score", "arxiv.org")
	assert.False(t, ok)
}
