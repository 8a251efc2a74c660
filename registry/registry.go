// Package registry is the composition root: it builds the process-wide
// singletons (breakers, limiter, cache, cost tracker, budget governor,
// egress guard, model stack, stores, queue) from configuration and wires
// them into the supervisor, worker, and telemetry. Tests substitute
// individual instances by constructing components directly.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/breaker"
	"github.com/graphmind-ai/graphmind/budget"
	"github.com/graphmind-ai/graphmind/cache"
	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/config"
	"github.com/graphmind-ai/graphmind/cost"
	"github.com/graphmind-ai/graphmind/discovery"
	"github.com/graphmind-ai/graphmind/egress"
	"github.com/graphmind-ai/graphmind/fetch"
	"github.com/graphmind-ai/graphmind/kg"
	kgbolt "github.com/graphmind-ai/graphmind/kg/bolt"
	kgpostgres "github.com/graphmind-ai/graphmind/kg/postgres"
	"github.com/graphmind-ai/graphmind/llm"
	"github.com/graphmind-ai/graphmind/pipeline"
	"github.com/graphmind-ai/graphmind/queue"
	"github.com/graphmind-ai/graphmind/ratelimit"
	"github.com/graphmind-ai/graphmind/supervisor"
	"github.com/graphmind-ai/graphmind/telemetry"
	"github.com/graphmind-ai/graphmind/transport"
	"github.com/graphmind-ai/graphmind/worker"
)

// Registry bundles the wired components of one process.
type Registry struct {
	Config *config.Config

	Breakers *breaker.Breakers
	Limiter  *ratelimit.Limiter
	Tracker  *cost.Tracker
	Governor *budget.Governor
	Cache    *cache.Cache
	Guard    *egress.Guard
	Router   *llm.Router
	Model    *llm.TrackedClient

	Queue       queue.Queue
	Checkpoints queue.CheckpointStore
	Versioner   *kg.Versioner

	Fetcher    *fetch.Fetcher
	Discoverer *discovery.Discoverer
	Pipeline   *pipeline.Pipeline
	Supervisor *supervisor.Supervisor
	Telemetry  *telemetry.Aggregator
	Workers    *worker.Pool
	Messenger  transport.Messenger

	log     *logrus.Entry
	closers []func() error
}

// New builds the full component graph for the given configuration.
func New(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := &Registry{
		Config:   cfg,
		Breakers: breaker.New(),
		Limiter:  ratelimit.New(),
		Tracker:  cost.NewTracker(),
		Guard:    egress.NewGuard(cfg.Security.NetworkAllowlist),
		log:      common.ServiceLogger("registry"),
	}

	r.Governor = budget.NewGovernor(r.Tracker,
		budget.Caps{
			GlobalDailyUSD: cfg.Budget.GlobalDailyUSD,
			DomainDailyUSD: cfg.Budget.DomainDailyUSD,
		},
		budget.Envelopes{
			PerTaskUSD:             cfg.Budget.PerTaskUSD,
			PerAgentDailyUSD:       cfg.Budget.PerAgentDailyUSD,
			PerQueueConcurrencyUSD: cfg.Budget.PerQueueConcurrencyUSD,
			PerToolCallUSD:         cfg.Budget.PerToolCallUSD,
		},
	)

	if err := r.buildCache(ctx, cfg); err != nil {
		return nil, err
	}
	if err := r.buildModelStack(cfg); err != nil {
		return nil, err
	}
	if err := r.buildStores(ctx, cfg); err != nil {
		r.Close()
		return nil, err
	}

	r.Fetcher = fetch.New(r.Guard, r.Cache)
	r.Discoverer = discovery.New(discovery.DefaultProviders(), r.Limiter, r.Breakers, r.queryAssist())

	var invoker pipeline.ModelInvoker
	if r.Model != nil {
		invoker = r.Model
	}
	r.Pipeline = pipeline.New(
		pipeline.NewExtractor(invoker, r.Router.ModelForTask("extraction"), cfg.Security.RequireClaimProvenance),
		pipeline.NewLinker(r.Versioner.Store()),
		pipeline.NewWriter(),
	)

	r.Telemetry = telemetry.New(r.Breakers, r.Tracker, r.Governor, r.Queue, r.Versioner.Changelog(), r.Versioner.Store())

	r.Supervisor = supervisor.New(supervisor.Options{
		Versioner:   r.Versioner,
		Pipeline:    r.Pipeline,
		Discoverer:  r.Discoverer,
		Fetcher:     r.Fetcher,
		Checkpoints: r.Checkpoints,
		Breakers:    r.Breakers,
		Model:       invoker,
		Router:      r.Router,
		Summarize:   r.Telemetry.Summarize,
		Expansion: supervisor.ExpansionConfig{
			Domains:             cfg.Expansion.Domains,
			MaxDomains:          cfg.Expansion.MaxDomains,
			MaxSourcesPerDomain: cfg.Expansion.MaxSourcesPerDomain,
		},
	})

	r.Messenger = transport.NewTelegram(cfg.Telegram.BotToken)
	r.Workers = worker.NewPool(cfg.Queue.WorkerConcurrency, worker.Options{
		Queue:     r.Queue,
		Runner:    r.Supervisor,
		Messenger: r.Messenger,
	})

	return r, nil
}

func (r *Registry) buildCache(ctx context.Context, cfg *config.Config) error {
	if cfg.Cache.RedisURL == "" {
		r.Cache = cache.New(cache.NewMemoryBackend())
		return nil
	}
	backend, err := cache.NewRedisBackend(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect redis cache: %w", err)
	}
	r.closers = append(r.closers, backend.Close)
	r.Cache = cache.New(backend)
	return nil
}

// buildModelStack picks the first configured provider and wraps it with
// budget, breaker, and cost tracking. No credentials leaves the model nil;
// the pipeline then relies on cheap extraction only.
func (r *Registry) buildModelStack(cfg *config.Config) error {
	var (
		base  llm.ModelClient
		tiers config.ProviderModels
		err   error
	)
	switch {
	case cfg.Models.OpenAIAPIKey != "":
		tiers = withDefaults(cfg.Models.OpenAI, "gpt-4o-mini", "gpt-4o", "gpt-4.1")
		base, err = llm.NewOpenAI(cfg.Models.OpenAIAPIKey, tiers.Default)
	case cfg.Models.AnthropicAPIKey != "":
		tiers = withDefaults(cfg.Models.Anthropic, "claude-3-5-haiku-20241022", "claude-sonnet-4-20250514", "claude-opus-4-20250514")
		base, err = llm.NewAnthropic(cfg.Models.AnthropicAPIKey, tiers.Default)
	case cfg.Models.MoonshotAPIKey != "":
		tiers = withDefaults(cfg.Models.Moonshot, "moonshot-v1-8k", "moonshot-v1-8k", "moonshot-v1-32k")
		base, err = llm.NewMoonshot(cfg.Models.MoonshotAPIKey, tiers.Default)
	default:
		r.log.Warn("no model credentials configured, running with heuristic extraction only")
		r.Router = llm.NewRouter(llm.TierModels{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to build model client: %w", err)
	}

	r.Router = llm.NewRouter(llm.TierModels{Cheap: tiers.Cheap, Mid: tiers.Mid, Expensive: tiers.Expensive})
	r.Model = llm.NewTracked(base, r.Breakers, r.Governor, r.Tracker)
	return nil
}

// buildStores selects durable (Postgres) or inline (memory + bbolt) backing
// stores. The checkpoint store always shares the queue's store.
func (r *Registry) buildStores(ctx context.Context, cfg *config.Config) error {
	if cfg.Queue.UseDurable {
		pq, err := queue.NewPostgres(ctx, cfg.Queue.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open durable queue: %w", err)
		}
		r.closers = append(r.closers, func() error { pq.Close(); return nil })
		r.Queue = pq
		r.Checkpoints = pq

		store, err := kgpostgres.Open(cfg.Queue.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open graph store: %w", err)
		}
		r.Versioner = kg.NewVersioner(store, store)
		return nil
	}

	mq := queue.NewMemory()
	r.Queue = mq
	r.Checkpoints = mq

	changelog, err := kgbolt.Open(filepath.Join(cfg.Queue.DataDir, "changelog.db"))
	if err != nil {
		r.log.WithError(err).Warn("bbolt changelog unavailable, falling back to in-memory")
		r.Versioner = kg.NewVersioner(kg.NewMemoryStore(), kg.NewMemoryChangelog())
		return nil
	}
	r.closers = append(r.closers, changelog.Close)
	r.Versioner = kg.NewVersioner(kg.NewMemoryStore(), changelog)
	r.Checkpoints = changelog.Checkpoints()
	return nil
}

// queryAssist returns the model-backed discovery query generator, or nil
// when no model is configured.
func (r *Registry) queryAssist() discovery.QueryAssist {
	if r.Model == nil {
		return nil
	}
	model := r.Model
	router := r.Router
	return func(ctx context.Context, domain string) ([]string, error) {
		resp, err := model.Invoke(ctx, llm.Request{
			Model:     router.ModelForTask("query_generation"),
			System:    "Produce two short search queries for learning resources about the given domain, one per line. Queries only.",
			Prompt:    domain,
			MaxTokens: 60,
		}, llm.CallScope{Domain: domain, Queue: "discovery", Agent: "query_assist", Tool: "query_generation"})
		if err != nil {
			return nil, err
		}
		var queries []string
		for _, line := range strings.Split(resp.Text, "\n") {
			if q := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-")); q != "" {
				queries = append(queries, q)
			}
		}
		return queries, nil
	}
}

// Close releases pooled connections and file handles in reverse order.
func (r *Registry) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.log.WithError(err).Warn("close failed")
		}
	}
	r.closers = nil
}

func withDefaults(m config.ProviderModels, cheap, mid, expensive string) config.ProviderModels {
	if m.Default == "" {
		m.Default = mid
	}
	if m.Cheap == "" {
		m.Cheap = cheap
	}
	if m.Mid == "" {
		m.Mid = m.Default
	}
	if m.Expensive == "" {
		m.Expensive = expensive
	}
	return m
}
