// Package budget enforces the layered spend limits: hard daily/total caps by
// domain and queue, plus per-task, per-agent-day and per-call envelopes. The
// governor reads rollups from the cost tracker; it never records spend
// itself except for the per-task envelope, whose scope only it knows.
package budget

import (
	"sync"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/cost"
)

// Caps are the hard limits. Zero means unlimited.
type Caps struct {
	GlobalDailyUSD   float64
	DomainDailyUSD   map[string]float64
	DomainTotalUSD   map[string]float64
	QueueTotalUSD    map[string]float64
}

// Envelopes bound spend per scope. Zero means unlimited.
type Envelopes struct {
	PerTaskUSD             float64 // all-time per task_id
	PerAgentDailyUSD       float64 // per agent per day
	PerQueueConcurrencyUSD float64 // per single call
	PerToolCallUSD         float64 // per single call
}

// Governor checks spend against caps and envelopes.
type Governor struct {
	mu        sync.Mutex
	caps      Caps
	envelopes Envelopes
	tracker   *cost.Tracker
	taskSpend map[string]float64
}

// NewGovernor builds a governor over a cost tracker.
func NewGovernor(tracker *cost.Tracker, caps Caps, envelopes Envelopes) *Governor {
	if caps.DomainDailyUSD == nil {
		caps.DomainDailyUSD = map[string]float64{}
	}
	if caps.DomainTotalUSD == nil {
		caps.DomainTotalUSD = map[string]float64{}
	}
	if caps.QueueTotalUSD == nil {
		caps.QueueTotalUSD = map[string]float64{}
	}
	return &Governor{
		caps:      caps,
		envelopes: envelopes,
		tracker:   tracker,
		taskSpend: make(map[string]float64),
	}
}

// SetDomainDailyCap adjusts one domain's daily cap at runtime.
func (g *Governor) SetDomainDailyCap(domain string, usd float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.caps.DomainDailyUSD[domain] = usd
}

// SetGlobalDailyCap adjusts the global daily cap at runtime.
func (g *Governor) SetGlobalDailyCap(usd float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.caps.GlobalDailyUSD = usd
}

// Check reports whether spending additionalCost under (domain, queue) stays
// within every hard cap.
func (g *Governor) Check(domain, queue string, additionalCost float64) (bool, *common.BudgetExceededError) {
	g.mu.Lock()
	caps := g.caps
	g.mu.Unlock()

	if caps.GlobalDailyUSD > 0 {
		spent := g.tracker.Daily("", "")
		if spent+additionalCost > caps.GlobalDailyUSD {
			return false, &common.BudgetExceededError{
				Scope: "global_daily", LimitUSD: caps.GlobalDailyUSD,
				SpentUSD: spent, AttemptUSD: additionalCost,
			}
		}
	}
	if domain != "" {
		if limit, ok := caps.DomainDailyUSD[domain]; ok && limit > 0 {
			spent := g.tracker.Daily(domain, "")
			if spent+additionalCost > limit {
				return false, &common.BudgetExceededError{
					Scope: "domain_daily", Key: domain, LimitUSD: limit,
					SpentUSD: spent, AttemptUSD: additionalCost,
				}
			}
		}
		if limit, ok := caps.DomainTotalUSD[domain]; ok && limit > 0 {
			spent := g.tracker.Domain(domain)
			if spent+additionalCost > limit {
				return false, &common.BudgetExceededError{
					Scope: "domain_total", Key: domain, LimitUSD: limit,
					SpentUSD: spent, AttemptUSD: additionalCost,
				}
			}
		}
	}
	if queue != "" {
		if limit, ok := caps.QueueTotalUSD[queue]; ok && limit > 0 {
			spent := g.tracker.Queue(queue)
			if spent+additionalCost > limit {
				return false, &common.BudgetExceededError{
					Scope: "queue_total", Key: queue, LimitUSD: limit,
					SpentUSD: spent, AttemptUSD: additionalCost,
				}
			}
		}
	}
	return true, nil
}

// Enforce returns a BudgetExceededError when a hard cap would be violated.
func (g *Governor) Enforce(domain, queue string, additionalCost float64) error {
	if ok, err := g.Check(domain, queue, additionalCost); !ok {
		return err
	}
	return nil
}

// EnforceAllCaps checks every envelope then every hard cap, failing at the
// first violation.
func (g *Governor) EnforceAllCaps(taskID, agent, queue, tool, domain string, additionalCost float64) error {
	g.mu.Lock()
	env := g.envelopes
	taskSpent := g.taskSpend[taskID]
	g.mu.Unlock()

	if env.PerToolCallUSD > 0 && tool != "" && additionalCost > env.PerToolCallUSD {
		return &common.BudgetExceededError{
			Scope: "per_tool_call", Key: tool,
			LimitUSD: env.PerToolCallUSD, AttemptUSD: additionalCost,
		}
	}
	if env.PerQueueConcurrencyUSD > 0 && queue != "" && additionalCost > env.PerQueueConcurrencyUSD {
		return &common.BudgetExceededError{
			Scope: "per_queue_concurrency", Key: queue,
			LimitUSD: env.PerQueueConcurrencyUSD, AttemptUSD: additionalCost,
		}
	}
	if env.PerTaskUSD > 0 && taskID != "" && taskSpent+additionalCost > env.PerTaskUSD {
		return &common.BudgetExceededError{
			Scope: "per_task", Key: taskID, LimitUSD: env.PerTaskUSD,
			SpentUSD: taskSpent, AttemptUSD: additionalCost,
		}
	}
	if env.PerAgentDailyUSD > 0 && agent != "" {
		spent := g.tracker.AgentDaily(agent)
		if spent+additionalCost > env.PerAgentDailyUSD {
			return &common.BudgetExceededError{
				Scope: "per_agent_daily", Key: agent, LimitUSD: env.PerAgentDailyUSD,
				SpentUSD: spent, AttemptUSD: additionalCost,
			}
		}
	}

	return g.Enforce(domain, queue, additionalCost)
}

// RecordTaskSpend accumulates actual spend against a task's envelope.
func (g *Governor) RecordTaskSpend(taskID string, usd float64) {
	if taskID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.taskSpend[taskID] += usd
}

// DailyRemaining reports headroom under the global daily cap, negative-free.
func (g *Governor) DailyRemaining() float64 {
	g.mu.Lock()
	limit := g.caps.GlobalDailyUSD
	g.mu.Unlock()

	if limit <= 0 {
		return 0
	}
	remaining := limit - g.tracker.Daily("", "")
	if remaining < 0 {
		return 0
	}
	return remaining
}
