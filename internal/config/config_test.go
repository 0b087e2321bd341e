// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/meridian/internal/region"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, StrategyComposite, cfg.Balancer.Strategy)
	assert.Equal(t, region.Global.String(), cfg.Balancer.DefaultRegion)
	assert.Equal(t, region.NorthAmerica.String(), cfg.Failover.InitialRegion)
	assert.Equal(t, 30*time.Second, cfg.Failover.CheckInterval)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_AppliesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
  log_level: debug
balancer:
  strategy: least_connections
  health_refresh_interval: 45s
failover:
  initial_region: europe
  check_interval: 10s
redis:
  enabled: true
  address: redis.internal:6379
regions:
  costs:
    europe:
      compute: 0.01
      storage: 0.002
      network: 0.03
      currency: EUR
  cidr_rules:
    - cidr: 10.0.0.0/8
      region: north-america
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "least_connections", cfg.Balancer.Strategy)
	assert.Equal(t, 45*time.Second, cfg.Balancer.HealthRefreshInterval)
	assert.Equal(t, "europe", cfg.Failover.InitialRegion)
	assert.Equal(t, 10*time.Second, cfg.Failover.CheckInterval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
	assert.Equal(t, "EUR", cfg.Regions.Costs["europe"].Currency)
	require.Len(t, cfg.Regions.CIDRRules, 1)

	// Fields the file does not mention keep their defaults.
	assert.Equal(t, 100, cfg.Server.RateBurst)
	assert.Equal(t, int64(1000), cfg.Balancer.MaxRequestsPerRegion)
	assert.Equal(t, 3, cfg.Failover.UnhealthyStreak)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
balancer:
  strategy: least_connections
`)
	t.Setenv("MERIDIAN_PORT", "7000")
	t.Setenv("MERIDIAN_STRATEGY", "adaptive")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "adaptive", cfg.Balancer.Strategy)
}

func TestApplyEnv_SkipsUnparsableValues(t *testing.T) {
	t.Setenv("MERIDIAN_PORT", "not-a-number")
	t.Setenv("MERIDIAN_CHECK_INTERVAL", "soon")
	t.Setenv("MERIDIAN_REDIS_ENABLED", "definitely")

	cfg := Default()
	ApplyEnv(cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Failover.CheckInterval)
	assert.False(t, cfg.Redis.Enabled)
}

func TestApplyEnv_AppliesOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_LOG_LEVEL", "warn")
	t.Setenv("MERIDIAN_DEFAULT_REGION", "asia")
	t.Setenv("MERIDIAN_FAILOVER_REGION", "europe")
	t.Setenv("MERIDIAN_CHECK_INTERVAL", "15s")
	t.Setenv("MERIDIAN_PROBE_ENDPOINT", "https://probe.internal/healthz")
	t.Setenv("MERIDIAN_REDIS_ENABLED", "true")
	t.Setenv("MERIDIAN_REDIS_ADDRESS", "10.1.2.3:6379")
	t.Setenv("MERIDIAN_WEBHOOK_URL", "https://hooks.internal/region")

	cfg := Default()
	ApplyEnv(cfg)

	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "asia", cfg.Balancer.DefaultRegion)
	assert.Equal(t, "europe", cfg.Failover.InitialRegion)
	assert.Equal(t, 15*time.Second, cfg.Failover.CheckInterval)
	assert.Equal(t, "https://probe.internal/healthz", cfg.Probe.Endpoint)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "10.1.2.3:6379", cfg.Redis.Address)
	assert.Equal(t, "https://hooks.internal/region", cfg.Webhook.URL)
	require.NoError(t, cfg.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "server.log_level"},
		{"zero rate limit", func(c *Config) { c.Server.RateLimit = 0 }, "server.rate_limit"},
		{"zero burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"bad default region", func(c *Config) { c.Balancer.DefaultRegion = "atlantis" }, "balancer.default_region"},
		{"bad strategy", func(c *Config) { c.Balancer.Strategy = "fastest" }, "balancer.strategy"},
		{"zero capacity", func(c *Config) { c.Balancer.MaxRequestsPerRegion = 0 }, "balancer.max_requests_per_region"},
		{"zero refresh interval", func(c *Config) { c.Balancer.HealthRefreshInterval = 0 }, "balancer.health_refresh_interval"},
		{"bad initial region", func(c *Config) { c.Failover.InitialRegion = "mars" }, "failover.initial_region"},
		{"zero failing threshold", func(c *Config) { c.Failover.FailingThreshold = 0 }, "failover.failing_threshold"},
		{"zero streak", func(c *Config) { c.Failover.UnhealthyStreak = 0 }, "failover.unhealthy_streak"},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }, "redis.address"},
		{"bad webhook url", func(c *Config) { c.Webhook.URL = "not a url" }, "webhook.url"},
		{"cost for unknown region", func(c *Config) {
			c.Regions.Costs = map[string]region.Cost{"atlantis": {Currency: "USD"}}
		}, "regions.costs"},
		{"negative cost", func(c *Config) {
			c.Regions.Costs = map[string]region.Cost{"europe": {Compute: -1, Currency: "USD"}}
		}, "regions.costs[europe]"},
		{"bad cidr", func(c *Config) {
			c.Regions.CIDRRules = []CIDRRule{{CIDR: "10.0.0.0/40", Region: "europe"}}
		}, "regions.cidr_rules[0]"},
		{"cidr with unknown region", func(c *Config) {
			c.Regions.CIDRRules = []CIDRRule{{CIDR: "10.0.0.0/8", Region: "atlantis"}}
		}, "regions.cidr_rules[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CompositeAndEmptyStrategyAccepted(t *testing.T) {
	cfg := Default()
	cfg.Balancer.Strategy = StrategyComposite
	require.NoError(t, cfg.Validate())

	cfg.Balancer.Strategy = ""
	require.NoError(t, cfg.Validate())
}

func TestCostCatalog_AppliesOverrides(t *testing.T) {
	cfg := Default()
	cfg.Regions.Costs = map[string]region.Cost{
		"europe": {Compute: 0.01, Storage: 0.002, Network: 0.03, Currency: "EUR"},
	}
	require.NoError(t, cfg.Validate())

	catalog := cfg.CostCatalog()
	require.NoError(t, catalog.Validate())
	assert.Equal(t, 0.01, catalog[region.Europe].Compute)
	assert.Equal(t, "EUR", catalog[region.Europe].Currency)
	assert.Equal(t, region.DefaultCatalog()[region.Asia], catalog[region.Asia])
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	path := writeConfigFile(t, "server:\n  port: 9191\n")
	cfg, err = LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("MERIDIAN_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvOrDefault("MERIDIAN_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("MERIDIAN_TEST_KEY_UNSET", "fallback"))
}
