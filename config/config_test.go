package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Queue.UseDurable)
	assert.Equal(t, 2, cfg.Queue.WorkerConcurrency)
	assert.Equal(t, 10, cfg.Expansion.MaxSourcesPerDomain)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ADMIN_API_KEY", "sekrit")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LLM_DAILY_BUDGET_USD", "2.5")
	t.Setenv("REQUIRE_CLAIM_PROVENANCE", "true")
	t.Setenv("EXPANSION_DOMAINS", "Algebra, Topology ,")
	t.Setenv("SECURITY_NETWORK_ALLOWLIST", "example.org,example.net")
	t.Setenv("OPENAI_MODEL_CHEAP", "gpt-4o-mini")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sekrit", cfg.Admin.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Budget.GlobalDailyUSD)
	assert.True(t, cfg.Security.RequireClaimProvenance)
	assert.Equal(t, []string{"Algebra", "Topology"}, cfg.Expansion.Domains)
	assert.Equal(t, []string{"example.org", "example.net"}, cfg.Security.NetworkAllowlist)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.OpenAI.Cheap)
}

func TestDomainBudgetsFromEnv(t *testing.T) {
	budgets := domainBudgetsFromEnv([]string{
		"DOMAIN_BUDGET_ALGEBRA=0.50",
		"DOMAIN_BUDGET_Biology=1.25",
		"DOMAIN_BUDGET_=9",
		"DOMAIN_BUDGET_BAD=not-a-number",
		"PATH=/usr/bin",
	})
	assert.Equal(t, map[string]float64{"algebra": 0.5, "biology": 1.25}, budgets)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080},
		Queue:     QueueConfig{WorkerConcurrency: 1},
		Expansion: ExpansionConfig{MaxSourcesPerDomain: 10},
	}
	require.NoError(t, Validate(cfg))

	cfg.Queue.UseDurable = true
	assert.Error(t, Validate(cfg))
	cfg.Queue.DatabaseURL = "postgres://localhost/graphmind"
	require.NoError(t, Validate(cfg))

	cfg.Server.Port = 0
	assert.Error(t, Validate(cfg))
}
