package llm

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/budget"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/cost"
)

// CallScope attributes a model call to the budget and telemetry dimensions.
type CallScope struct {
	Domain string
	Queue  string
	Agent  string
	TaskID string
	Tool   string
}

// TrackedClient wraps a ModelClient with breaker checks, budget enforcement
// and cost recording. It composes rather than inherits: any ModelClient can
// be tracked.
type TrackedClient struct {
	base     ModelClient
	breakers *breaker.Breakers
	governor *budget.Governor
	tracker  *cost.Tracker

	retryBase time.Duration
	sleep     func(time.Duration)
}

// NewTracked builds the wrapper.
func NewTracked(base ModelClient, breakers *breaker.Breakers, governor *budget.Governor, tracker *cost.Tracker) *TrackedClient {
	return &TrackedClient{
		base:      base,
		breakers:  breakers,
		governor:  governor,
		tracker:   tracker,
		retryBase: time.Second,
		sleep:     time.Sleep,
	}
}

func (t *TrackedClient) Provider() string { return t.base.Provider() }

// Invoke runs the full tracked call: breaker pre-check, budget enforcement
// on an estimate, the underlying call with one transparent retry for
// transient errors, then cost recording against actual usage.
func (t *TrackedClient) Invoke(ctx context.Context, req Request, scope CallScope) (*Response, error) {
	if scope.Domain != "" {
		if err := t.breakers.AllowErr(scope.Domain); err != nil {
			return nil, err
		}
	}

	estimatedIn := EstimateTokens(req.System + req.Prompt)
	estimatedOut := req.MaxTokens
	if estimatedOut <= 0 {
		estimatedOut = estimatedIn
	}
	estimatedCost := cost.Estimate(req.Model, estimatedIn, estimatedOut)

	if err := t.governor.EnforceAllCaps(scope.TaskID, scope.Agent, scope.Queue, scope.Tool, scope.Domain, estimatedCost); err != nil {
		if scope.Domain != "" && common.IsBudgetExceeded(err) {
			t.breakers.ForceOpen(scope.Domain)
		}
		return nil, err
	}

	start := time.Now()
	resp, err := t.invokeWithRetry(ctx, req)
	duration := time.Since(start)

	rec := cost.CallRecord{
		Model:      req.Model,
		Provider:   t.base.Provider(),
		Domain:     scope.Domain,
		Queue:      scope.Queue,
		Agent:      scope.Agent,
		DurationMS: duration.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		rec.Error = common.Truncate(err.Error(), common.MaxLogMessageLen)
		rec.InputTokens = estimatedIn
		if scope.Domain != "" && !common.IsBudgetExceeded(err) {
			t.breakers.RecordFailure(scope.Domain)
		}
		rec.CostUSD = cost.Estimate(req.Model, rec.InputTokens, 0)
		t.tracker.Record(rec)
		t.governor.RecordTaskSpend(scope.TaskID, rec.CostUSD)
		return nil, err
	}

	// Provider usage metadata wins over the estimate when present.
	rec.InputTokens = resp.InputTokens
	rec.OutputTokens = resp.OutputTokens
	if rec.InputTokens == 0 && rec.OutputTokens == 0 {
		rec.InputTokens = estimatedIn
		rec.OutputTokens = EstimateTokens(resp.Text)
	}
	rec.CostUSD = cost.Estimate(req.Model, rec.InputTokens, rec.OutputTokens)
	t.tracker.Record(rec)
	t.governor.RecordTaskSpend(scope.TaskID, rec.CostUSD)

	if scope.Domain != "" {
		t.breakers.RecordSuccess(scope.Domain)
		// If actual cost overshot the estimate past a cap, pause the domain.
		if rec.CostUSD > estimatedCost {
			if ok, _ := t.governor.Check(scope.Domain, scope.Queue, 0); !ok {
				t.breakers.ForceOpen(scope.Domain)
			}
		}
	}
	return resp, nil
}

// invokeWithRetry retries once on transient failure with jittered backoff.
// Budget errors are never retried.
func (t *TrackedClient) invokeWithRetry(ctx context.Context, req Request) (*Response, error) {
	resp, err := t.base.Invoke(ctx, req)
	if err == nil || !isTransient(err) || common.IsBudgetExceeded(err) {
		return resp, err
	}

	backoff := t.retryBase + time.Duration(rand.Int63n(int64(t.retryBase)))
	t.sleep(backoff)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return t.base.Invoke(ctx, req)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "timed out", "connection reset", "connection refused",
		"unexpected eof", "status 500", "status 502", "status 503", "status 504",
		"500 internal", "502 bad gateway", "503 service", "504 gateway",
		"overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
