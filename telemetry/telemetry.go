// Package telemetry aggregates health, cost, task, and graph state into one
// snapshot for admin views and supervisor prompts. Every section is guarded:
// a failing subsystem reports an error string instead of failing the whole
// snapshot.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/budget"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/cost"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/queue"
)

// errorRateWindow is how many recent model calls feed the error rate.
const errorRateWindow = 50

const recentFailuresShown = 5

// Aggregator gathers state from the process-wide singletons.
type Aggregator struct {
	breakers  *breaker.Breakers
	tracker   *cost.Tracker
	governor  *budget.Governor
	tasks     queue.Queue
	changelog kg.ChangelogStore
	store     kg.GraphStore
	now       func() time.Time
	log       *logrus.Entry
}

// New builds an aggregator; any dependency may be nil and its section will
// report as unavailable.
func New(breakers *breaker.Breakers, tracker *cost.Tracker, governor *budget.Governor, tasks queue.Queue, changelog kg.ChangelogStore, store kg.GraphStore) *Aggregator {
	return &Aggregator{
		breakers:  breakers,
		tracker:   tracker,
		governor:  governor,
		tasks:     tasks,
		changelog: changelog,
		store:     store,
		now:       time.Now,
		log:       common.ServiceLogger("telemetry"),
	}
}

// Snapshot combines every section. It never returns an error; failures are
// embedded per section.
func (a *Aggregator) Snapshot(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":  a.now().UTC().Format(time.RFC3339),
		"breakers":   a.breakerSection(),
		"cost":       a.costSection(),
		"tasks":      a.taskSection(ctx),
		"processing": a.processingSection(ctx),
		"kg":         a.kgSection(ctx),
	}
}

func (a *Aggregator) breakerSection() map[string]interface{} {
	if a.breakers == nil {
		return sectionError("breakers not configured")
	}
	snapshot := a.breakers.Snapshot()
	return map[string]interface{}{
		"open":      snapshot[breaker.StateOpen],
		"half_open": snapshot[breaker.StateHalfOpen],
		"closed":    len(snapshot[breaker.StateClosed]),
	}
}

func (a *Aggregator) costSection() map[string]interface{} {
	if a.tracker == nil {
		return sectionError("cost tracker not configured")
	}
	stats := a.tracker.Stats()
	section := map[string]interface{}{
		"total_usd":  stats.TotalUSD,
		"today_usd":  stats.TodayUSD,
		"calls":      stats.TotalCalls,
		"failed":     stats.FailedCalls,
		"error_rate": a.tracker.ErrorRate(errorRateWindow),
		"by_domain":  stats.DomainCosts,
		"by_queue":   stats.QueueCosts,
	}
	if a.governor != nil {
		section["daily_remaining_usd"] = a.governor.DailyRemaining()
	}
	return section
}

func (a *Aggregator) taskSection(ctx context.Context) map[string]interface{} {
	if a.tasks == nil {
		return sectionError("queue not configured")
	}
	counts, err := a.tasks.StatusCounts(ctx)
	if err != nil {
		return sectionError(err.Error())
	}

	section := map[string]interface{}{"counts": counts}
	recent, err := a.tasks.RecentTasks(ctx, 50)
	if err != nil {
		section["recent_failures_error"] = err.Error()
		return section
	}
	var failures []map[string]interface{}
	for _, t := range recent {
		if t.Status != queue.StatusDeadLetter && t.Error == "" {
			continue
		}
		failures = append(failures, map[string]interface{}{
			"task_id":   t.TaskID,
			"task_type": t.TaskType,
			"status":    t.Status,
			"error":     common.Truncate(t.Error, common.MaxTransportMessageLen),
		})
		if len(failures) >= recentFailuresShown {
			break
		}
	}
	section["recent_failures"] = failures
	return section
}

func (a *Aggregator) processingSection(ctx context.Context) map[string]interface{} {
	if a.tasks == nil {
		return sectionError("queue not configured")
	}
	recent, err := a.tasks.RecentTasks(ctx, 200)
	if err != nil {
		return sectionError(err.Error())
	}

	cutoff := a.now().Add(-time.Hour)
	total, completed := 0, 0
	for _, t := range recent {
		if t.UpdatedAt.Before(cutoff) {
			continue
		}
		total++
		if t.Status == queue.StatusCompleted {
			completed++
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(completed) / float64(total)
	}
	return map[string]interface{}{
		"tasks_last_hour":  total,
		"completed":        completed,
		"completion_ratio": ratio,
	}
}

func (a *Aggregator) kgSection(ctx context.Context) map[string]interface{} {
	if a.changelog == nil {
		return sectionError("changelog not configured")
	}
	version, err := a.changelog.CurrentVersion(ctx)
	if err != nil {
		return sectionError(err.Error())
	}
	section := map[string]interface{}{"version": version}

	if entries, err := a.changelog.Recent(ctx, 1); err == nil && len(entries) > 0 {
		section["last_change"] = map[string]interface{}{
			"summary":   entries[0].Summary,
			"agent":     entries[0].SourceAgent,
			"timestamp": entries[0].Timestamp.UTC().Format(time.RFC3339),
		}
	}
	if a.store != nil {
		if stats, err := a.store.Stats(ctx); err == nil {
			section["nodes"] = stats.Nodes
			section["edges"] = stats.Edges
		}
	}
	return section
}

// Summarize renders the snapshot as a compact text report.
func (a *Aggregator) Summarize(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("📊 System status\n")

	if a.breakers != nil {
		snapshot := a.breakers.Snapshot()
		open := snapshot[breaker.StateOpen]
		if len(open) == 0 {
			b.WriteString("Circuits: all closed\n")
		} else {
			fmt.Fprintf(&b, "Circuits: %d open (%s)\n", len(open), strings.Join(open, ", "))
		}
	}

	if a.tracker != nil {
		stats := a.tracker.Stats()
		fmt.Fprintf(&b, "Spend: $%s today, $%s total over %s calls",
			humanize.FtoaWithDigits(stats.TodayUSD, 4),
			humanize.FtoaWithDigits(stats.TotalUSD, 4),
			humanize.Comma(int64(stats.TotalCalls)))
		if a.governor != nil {
			fmt.Fprintf(&b, " ($%s left today)", humanize.FtoaWithDigits(a.governor.DailyRemaining(), 4))
		}
		fmt.Fprintf(&b, "; error rate %.0f%%\n", a.tracker.ErrorRate(errorRateWindow)*100)
	}

	if a.tasks != nil {
		if counts, err := a.tasks.StatusCounts(ctx); err == nil {
			fmt.Fprintf(&b, "Tasks: %d pending, %d running, %d completed, %d dead-letter\n",
				counts[queue.StatusPending], counts[queue.StatusInProgress],
				counts[queue.StatusCompleted], counts[queue.StatusDeadLetter])
		}
	}

	if a.changelog != nil {
		if version, err := a.changelog.CurrentVersion(ctx); err == nil {
			fmt.Fprintf(&b, "KG: version %d", version)
			if entries, err := a.changelog.Recent(ctx, 1); err == nil && len(entries) > 0 {
				fmt.Fprintf(&b, ", last change %s (%s)",
					humanize.Time(entries[0].Timestamp), entries[0].Summary)
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimSpace(b.String())
}

func sectionError(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}
