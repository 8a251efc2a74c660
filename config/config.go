// Package config loads the service configuration from an optional
// config.yaml plus environment variables. Environment variables use their
// operational names directly (DATABASE_URL, ADMIN_API_KEY, …) and override
// file values; defaults sit below both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// AdminConfig guards the admin HTTP surface.
type AdminConfig struct {
	// APIKey authenticates admin routes. Empty leaves them open
	// (development mode).
	APIKey string `mapstructure:"api_key"`

	// RateLimit is the per-client request rate on the HTTP surface.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// QueueConfig selects the task queue backing store.
type QueueConfig struct {
	// DatabaseURL is the Postgres DSN for the durable queue and
	// checkpoint store.
	DatabaseURL string `mapstructure:"database_url"`

	// UseDurable enqueues work instead of processing inline.
	UseDurable bool `mapstructure:"use_durable"`

	// DataDir holds the bbolt changelog in inline mode.
	DataDir string `mapstructure:"data_dir"`

	// WorkerConcurrency is the number of queue workers in durable mode.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	// RedisURL switches the cache from in-process to Redis when set.
	RedisURL string `mapstructure:"redis_url"`
}

// ProviderModels names the tiered models of one provider.
type ProviderModels struct {
	Default   string `mapstructure:"default"`
	Cheap     string `mapstructure:"cheap"`
	Mid       string `mapstructure:"mid"`
	Expensive string `mapstructure:"expensive"`
}

// ModelConfig carries provider credentials and tier names.
type ModelConfig struct {
	OpenAIAPIKey    string         `mapstructure:"openai_api_key"`
	AnthropicAPIKey string         `mapstructure:"anthropic_api_key"`
	MoonshotAPIKey  string         `mapstructure:"moonshot_api_key"`
	OpenAI          ProviderModels `mapstructure:"openai"`
	Anthropic       ProviderModels `mapstructure:"anthropic"`
	Moonshot        ProviderModels `mapstructure:"moonshot"`
}

// BudgetConfig carries hard caps and envelopes in USD.
type BudgetConfig struct {
	GlobalDailyUSD         float64            `mapstructure:"global_daily_usd"`
	DomainDailyUSD         map[string]float64 `mapstructure:"domain_daily_usd"`
	PerTaskUSD             float64            `mapstructure:"per_task_usd"`
	PerAgentDailyUSD       float64            `mapstructure:"per_agent_daily_usd"`
	PerQueueConcurrencyUSD float64            `mapstructure:"per_queue_concurrency_usd"`
	PerToolCallUSD         float64            `mapstructure:"per_tool_call_usd"`
}

// SecurityConfig carries egress and tool policy.
type SecurityConfig struct {
	// NetworkAllowlist extends the built-in egress host allowlist.
	NetworkAllowlist []string `mapstructure:"network_allowlist"`

	ApprovedTools []string `mapstructure:"approved_tools"`
	BlockedTools  []string `mapstructure:"blocked_tools"`

	// RequireClaimProvenance quarantines Claims without sources/evidence.
	RequireClaimProvenance bool `mapstructure:"require_claim_provenance"`
}

// ExpansionConfig bounds autonomous domain expansion.
type ExpansionConfig struct {
	Domains             []string `mapstructure:"domains"`
	MaxDomains          int      `mapstructure:"max_domains"`
	MaxSourcesPerDomain int      `mapstructure:"max_sources_per_domain"`
}

// TelegramConfig carries the chat transport credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Models    ModelConfig     `mapstructure:"models"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Security  SecurityConfig  `mapstructure:"security"`
	Expansion ExpansionConfig `mapstructure:"expansion"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

// envBindings maps config keys to their operational environment variables.
var envBindings = map[string]string{
	"server.host":    "SERVER_HOST",
	"server.port":    "SERVER_PORT",
	"logging.level":  "LOG_LEVEL",
	"logging.format": "LOG_FORMAT",

	"admin.api_key":    "ADMIN_API_KEY",
	"admin.rate_limit": "ADMIN_RATE_LIMIT",

	"queue.database_url":       "DATABASE_URL",
	"queue.use_durable":        "USE_DURABLE_QUEUE",
	"queue.data_dir":           "DATA_DIR",
	"queue.worker_concurrency": "WORKER_CONCURRENCY",

	"cache.redis_url": "REDIS_URL",

	"models.openai_api_key":    "OPENAI_API_KEY",
	"models.anthropic_api_key": "ANTHROPIC_API_KEY",
	"models.moonshot_api_key":  "MOONSHOT_API_KEY",

	"models.openai.default":      "OPENAI_MODEL",
	"models.openai.cheap":        "OPENAI_MODEL_CHEAP",
	"models.openai.mid":          "OPENAI_MODEL_MID",
	"models.openai.expensive":    "OPENAI_MODEL_EXPENSIVE",
	"models.anthropic.default":   "ANTHROPIC_MODEL",
	"models.anthropic.cheap":     "ANTHROPIC_MODEL_CHEAP",
	"models.anthropic.mid":       "ANTHROPIC_MODEL_MID",
	"models.anthropic.expensive": "ANTHROPIC_MODEL_EXPENSIVE",
	"models.moonshot.default":    "MOONSHOT_MODEL",
	"models.moonshot.cheap":      "MOONSHOT_MODEL_CHEAP",
	"models.moonshot.mid":        "MOONSHOT_MODEL_MID",
	"models.moonshot.expensive":  "MOONSHOT_MODEL_EXPENSIVE",

	"budget.global_daily_usd":          "LLM_DAILY_BUDGET_USD",
	"budget.per_task_usd":              "COST_PER_TASK_CAP_USD",
	"budget.per_agent_daily_usd":       "COST_PER_AGENT_DAILY_CAP_USD",
	"budget.per_queue_concurrency_usd": "COST_PER_QUEUE_CONCURRENCY_CAP_USD",
	"budget.per_tool_call_usd":         "COST_PER_TOOL_CALL_CAP_USD",

	"security.network_allowlist":        "SECURITY_NETWORK_ALLOWLIST",
	"security.approved_tools":           "SECURITY_APPROVED_TOOLS",
	"security.blocked_tools":            "SECURITY_BLOCKED_TOOLS",
	"security.require_claim_provenance": "REQUIRE_CLAIM_PROVENANCE",

	"expansion.domains":                "EXPANSION_DOMAINS",
	"expansion.max_domains":            "EXPANSION_MAX_DOMAINS",
	"expansion.max_sources_per_domain": "EXPANSION_MAX_SOURCES_PER_DOMAIN",

	"telegram.bot_token": "TELEGRAM_BOT_TOKEN",
}

// listKeys are env values parsed as comma-separated lists.
var listKeys = map[string]bool{
	"security.network_allowlist": true,
	"security.approved_tools":    true,
	"security.blocked_tools":     true,
	"expansion.domains":          true,
}

// Load reads configuration from the given file (or config.yaml in standard
// locations when empty) and overlays environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/graphmind")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
		if listKeys[key] {
			if raw, ok := os.LookupEnv(env); ok {
				v.Set(key, splitList(raw))
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Budget.DomainDailyUSD == nil {
		cfg.Budget.DomainDailyUSD = make(map[string]float64)
	}
	for domain, usd := range domainBudgetsFromEnv(os.Environ()) {
		cfg.Budget.DomainDailyUSD[domain] = usd
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("admin.rate_limit", 20)
	v.SetDefault("queue.use_durable", false)
	v.SetDefault("queue.data_dir", "./data")
	v.SetDefault("queue.worker_concurrency", 2)
	v.SetDefault("expansion.max_domains", 5)
	v.SetDefault("expansion.max_sources_per_domain", 10)
}

// Validate rejects configurations that cannot run.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Queue.UseDurable && cfg.Queue.DatabaseURL == "" {
		return fmt.Errorf("USE_DURABLE_QUEUE requires DATABASE_URL")
	}
	if cfg.Queue.WorkerConcurrency < 1 {
		return fmt.Errorf("queue.worker_concurrency must be at least 1")
	}
	if cfg.Expansion.MaxSourcesPerDomain < 1 {
		return fmt.Errorf("expansion.max_sources_per_domain must be at least 1")
	}
	return nil
}

// domainBudgetsFromEnv extracts DOMAIN_BUDGET_<name> caps. The name part is
// lowercased to match cost-tracker domain keys.
func domainBudgetsFromEnv(environ []string) map[string]float64 {
	const prefix = "DOMAIN_BUDGET_"
	budgets := make(map[string]float64)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name := strings.ToLower(kv[len(prefix):eq])
		if name == "" {
			continue
		}
		usd, err := strconv.ParseFloat(kv[eq+1:], 64)
		if err != nil {
			continue
		}
		budgets[name] = usd
	}
	return budgets
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
