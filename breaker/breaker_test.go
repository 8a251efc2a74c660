package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/common"
)

func newTestBreakers(start time.Time) (*Breakers, *time.Time) {
	b := New()
	now := start
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakers_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreakers(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure("Algebra")
		require.True(t, b.Allow("Algebra"), "still closed after %d failures", i+1)
	}

	b.RecordFailure("Algebra")
	assert.Equal(t, StateOpen, b.StateOf("Algebra"))
	assert.False(t, b.Allow("Algebra"))

	err := b.AllowErr("Algebra")
	var open *common.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "Algebra", open.Key)
}

func TestBreakers_FailuresOutsideWindowDoNotTrip(t *testing.T) {
	b, now := newTestBreakers(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure("arxiv")
	}
	// The old failures age out of the window before the next one.
	*now = now.Add(DefaultWindow + time.Second)
	b.RecordFailure("arxiv")

	assert.Equal(t, StateClosed, b.StateOf("arxiv"))
	assert.True(t, b.Allow("arxiv"))
}

func TestBreakers_HalfOpenProbe(t *testing.T) {
	b, now := newTestBreakers(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure("Algebra")
	}
	require.False(t, b.Allow("Algebra"))

	*now = now.Add(DefaultRecovery)
	assert.Equal(t, StateHalfOpen, b.StateOf("Algebra"))

	// Exactly one probe is admitted.
	assert.True(t, b.Allow("Algebra"))
	assert.False(t, b.Allow("Algebra"))

	// Probe success closes the circuit.
	b.RecordSuccess("Algebra")
	assert.Equal(t, StateClosed, b.StateOf("Algebra"))
	assert.True(t, b.Allow("Algebra"))
}

func TestBreakers_ProbeFailureReopens(t *testing.T) {
	b, now := newTestBreakers(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure("arxiv")
	}
	*now = now.Add(DefaultRecovery)
	require.True(t, b.Allow("arxiv"))

	b.RecordFailure("arxiv")
	assert.Equal(t, StateOpen, b.StateOf("arxiv"))
	assert.False(t, b.Allow("arxiv"))
}

func TestBreakers_ForceOpenIgnoresRecovery(t *testing.T) {
	b, now := newTestBreakers(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	b.ForceOpen("wikipedia")
	*now = now.Add(10 * DefaultRecovery)
	assert.Equal(t, StateOpen, b.StateOf("wikipedia"))
	assert.False(t, b.Allow("wikipedia"))

	b.ForceClose("wikipedia")
	assert.Equal(t, StateClosed, b.StateOf("wikipedia"))
	assert.True(t, b.Allow("wikipedia"))
}

func TestBreakers_Snapshot(t *testing.T) {
	b, _ := newTestBreakers(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	b.Allow("healthy")
	b.ForceOpen("broken")

	snap := b.Snapshot()
	assert.Contains(t, snap[StateClosed], "healthy")
	assert.Contains(t, snap[StateOpen], "broken")
}
