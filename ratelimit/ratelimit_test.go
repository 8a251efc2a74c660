package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/common"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	l := New()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_PerMinuteCap(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// arXiv allows 10/min; the 11th within the window is denied.
	for i := 0; i < 10; i++ {
		allowed, _ := l.Check("arxiv", "")
		require.True(t, allowed, "request %d should pass", i+1)
		l.Record("arxiv", "")
	}

	allowed, reason := l.Check("arxiv", "")
	assert.False(t, allowed)
	assert.Equal(t, "10/10 requests per minute for arxiv", reason)

	err := l.CheckErr("arxiv", "")
	var rl *common.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "arxiv", rl.Source)
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 10; i++ {
		l.Record("arxiv", "")
	}
	allowed, _ := l.Check("arxiv", "")
	require.False(t, allowed)

	// A minute later the per-minute window is clear again.
	*now = now.Add(61 * time.Second)
	allowed, _ = l.Check("arxiv", "")
	assert.True(t, allowed)

	minute, hour := l.Stats("arxiv")
	assert.Zero(t, minute)
	assert.Equal(t, 10, hour)
}

func TestLimiter_PerHourCap(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l.SetLimits("slow", Limits{PerMinute: 100, PerHour: 5})

	for i := 0; i < 5; i++ {
		l.Record("slow", "")
		*now = now.Add(2 * time.Minute)
	}

	allowed, reason := l.Check("slow", "")
	assert.False(t, allowed)
	assert.Contains(t, reason, "per hour for slow")
}

func TestLimiter_DomainCapIsHalfSourceCap(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// arXiv per-minute is 10, so one domain gets 5.
	for i := 0; i < 5; i++ {
		allowed, _ := l.Check("arxiv", "Algebra")
		require.True(t, allowed)
		l.Record("arxiv", "Algebra")
	}

	allowed, reason := l.Check("arxiv", "Algebra")
	assert.False(t, allowed)
	assert.Contains(t, reason, "domain Algebra")

	// Another domain still has headroom on the same source.
	allowed, _ = l.Check("arxiv", "Topology")
	assert.True(t, allowed)
}

func TestLimiter_RecordIncrementsByOne(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	minute, _ := l.Stats("wikipedia")
	require.Zero(t, minute)

	l.Record("wikipedia", "")
	minute, hour := l.Stats("wikipedia")
	assert.Equal(t, 1, minute)
	assert.Equal(t, 1, hour)
}
