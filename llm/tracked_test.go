package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/budget"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/cost"
)

type fakeClient struct {
	calls     int
	responses []*Response
	errs      []error
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	i := f.calls
	f.calls++
	var resp *Response
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func newTracked(base ModelClient, caps budget.Caps) (*TrackedClient, *cost.Tracker, *breaker.Breakers) {
	tracker := cost.NewTracker()
	breakers := breaker.New()
	governor := budget.NewGovernor(tracker, caps, budget.Envelopes{})
	t := NewTracked(base, breakers, governor, tracker)
	t.sleep = func(time.Duration) {}
	return t, tracker, breakers
}

func TestTracked_RecordsUsage(t *testing.T) {
	base := &fakeClient{responses: []*Response{{Text: "ok", InputTokens: 100, OutputTokens: 50}}}
	tracked, tracker, _ := newTracked(base, budget.Caps{})

	resp, err := tracked.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Prompt: "hi"}, CallScope{Domain: "Algebra"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	recent := tracker.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, 100, recent[0].InputTokens)
	assert.Equal(t, 50, recent[0].OutputTokens)
	assert.InDelta(t, cost.Estimate("gpt-4o-mini", 100, 50), recent[0].CostUSD, 1e-9)
	assert.True(t, recent[0].Success)
}

func TestTracked_FallsBackToEstimateWithoutUsage(t *testing.T) {
	base := &fakeClient{responses: []*Response{{Text: "12345678"}}}
	tracked, tracker, _ := newTracked(base, budget.Caps{})

	_, err := tracked.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Prompt: "12345678"}, CallScope{})
	require.NoError(t, err)

	recent := tracker.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].InputTokens)
	assert.Equal(t, 2, recent[0].OutputTokens)
}

func TestTracked_BudgetDenialOpensBreaker(t *testing.T) {
	base := &fakeClient{responses: []*Response{{Text: "ok"}}}
	tracked, tracker, breakers := newTracked(base, budget.Caps{GlobalDailyUSD: 0.01})

	tracker.Record(cost.CallRecord{Model: "gpt-4o-mini", CostUSD: 0.008, Success: true})

	longPrompt := make([]byte, 40000)
	_, err := tracked.Invoke(context.Background(), Request{Model: "gpt-4o", Prompt: string(longPrompt)}, CallScope{Domain: "Algebra"})
	require.Error(t, err)
	assert.True(t, common.IsBudgetExceeded(err))
	assert.Equal(t, breaker.StateOpen, breakers.StateOf("Algebra"))
	assert.Zero(t, base.calls, "base client must not be called on budget denial")

	// The open breaker now fails fast.
	_, err = tracked.Invoke(context.Background(), Request{Model: "gpt-4o", Prompt: "hi"}, CallScope{Domain: "Algebra"})
	assert.True(t, common.IsCircuitOpen(err))
}

func TestTracked_RetriesTransientOnce(t *testing.T) {
	base := &fakeClient{
		errs:      []error{errors.New("connection reset by peer"), nil},
		responses: []*Response{nil, {Text: "recovered", InputTokens: 10, OutputTokens: 5}},
	}
	tracked, _, _ := newTracked(base, budget.Caps{})

	resp, err := tracked.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Prompt: "hi"}, CallScope{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 2, base.calls)
}

func TestTracked_DoesNotRetryPermanentErrors(t *testing.T) {
	base := &fakeClient{errs: []error{errors.New("invalid api key")}}
	tracked, tracker, _ := newTracked(base, budget.Caps{})

	_, err := tracked.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Prompt: "hi"}, CallScope{Domain: "Algebra"})
	require.Error(t, err)
	assert.Equal(t, 1, base.calls)

	recent := tracker.Recent(1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Success)
	assert.Contains(t, recent[0].Error, "invalid api key")
}

func TestRouter(t *testing.T) {
	r := NewRouter(TierModels{Cheap: "gpt-4o-mini", Mid: "gpt-4o", Expensive: "o3-mini"})

	tests := []struct {
		task string
		want string
	}{
		{"intent_detection", "gpt-4o-mini"},
		{"extraction", "gpt-4o"},
		{"deep_reasoning", "o3-mini"},
		{"unheard_of_task", "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ModelForTask(tt.task))
		})
	}

	// Missing tiers fall back to mid.
	partial := NewRouter(TierModels{Mid: "claude-sonnet-4-20250514"})
	assert.Equal(t, "claude-sonnet-4-20250514", partial.ModelForTask("intent_detection"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
