// internal/config/config.go
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harborline/meridian/internal/region"
	"github.com/harborline/meridian/internal/strategy"
)

// StrategyComposite selects the balancer's composite scoring path instead
// of a fixed routing strategy.
const StrategyComposite = "composite"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Balancer BalancerConfig `yaml:"balancer"`
	Failover FailoverConfig `yaml:"failover"`
	Probe    ProbeConfig    `yaml:"probe"`
	Redis    RedisConfig    `yaml:"redis"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Regions  RegionsConfig  `yaml:"regions"`
}

type ServerConfig struct {
	Port      int     `yaml:"port"`
	LogLevel  string  `yaml:"log_level"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per client
	RateBurst int     `yaml:"rate_burst"`
}

type BalancerConfig struct {
	DefaultRegion         string        `yaml:"default_region"`
	Strategy              string        `yaml:"strategy"` // "composite" or a fixed strategy name
	MaxRequestsPerRegion  int64         `yaml:"max_requests_per_region"`
	HealthRefreshInterval time.Duration `yaml:"health_refresh_interval"`
	RebalanceInterval     time.Duration `yaml:"rebalance_interval"`
	PredictiveInterval    time.Duration `yaml:"predictive_interval"`
}

type FailoverConfig struct {
	InitialRegion    string        `yaml:"initial_region"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	FailingThreshold int           `yaml:"failing_threshold"`
	UnhealthyStreak  int           `yaml:"unhealthy_streak"`
}

type ProbeConfig struct {
	Endpoint string        `yaml:"endpoint"` // empty keeps the static all-healthy prober
	Timeout  time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"` // empty disables webhook delivery
	Secret string `yaml:"secret"`
}

type RegionsConfig struct {
	Costs     map[string]region.Cost `yaml:"costs"` // overrides for the built-in catalog
	CIDRRules []CIDRRule             `yaml:"cidr_rules"`
}

type CIDRRule struct {
	CIDR   string `yaml:"cidr"`
	Region string `yaml:"region"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			LogLevel:  "info",
			RateLimit: 50,
			RateBurst: 100,
		},
		Balancer: BalancerConfig{
			DefaultRegion:         region.Global.String(),
			Strategy:              StrategyComposite,
			MaxRequestsPerRegion:  1000,
			HealthRefreshInterval: 30 * time.Second,
			RebalanceInterval:     30 * time.Second,
			PredictiveInterval:    time.Hour,
		},
		Failover: FailoverConfig{
			InitialRegion:    region.NorthAmerica.String(),
			CheckInterval:    30 * time.Second,
			FailingThreshold: 3,
			UnhealthyStreak:  3,
		},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- operator-chosen path
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load when path is non-empty and otherwise
// returns the defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	cfg := Default()
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d outside [1, 65535]", c.Server.Port)
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q not one of debug, info, warn, error", c.Server.LogLevel)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive")
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1")
	}

	if _, err := region.Parse(c.Balancer.DefaultRegion); err != nil {
		return fmt.Errorf("balancer.default_region: %w", err)
	}
	if c.Balancer.Strategy != "" && c.Balancer.Strategy != StrategyComposite {
		if _, err := strategy.Parse(c.Balancer.Strategy); err != nil {
			return fmt.Errorf("balancer.strategy: %w", err)
		}
	}
	if c.Balancer.MaxRequestsPerRegion <= 0 {
		return fmt.Errorf("balancer.max_requests_per_region must be positive")
	}
	for name, d := range map[string]time.Duration{
		"balancer.health_refresh_interval": c.Balancer.HealthRefreshInterval,
		"balancer.rebalance_interval":      c.Balancer.RebalanceInterval,
		"balancer.predictive_interval":     c.Balancer.PredictiveInterval,
		"failover.check_interval":          c.Failover.CheckInterval,
		"probe.timeout":                    c.Probe.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if _, err := region.Parse(c.Failover.InitialRegion); err != nil {
		return fmt.Errorf("failover.initial_region: %w", err)
	}
	if c.Failover.FailingThreshold < 1 {
		return fmt.Errorf("failover.failing_threshold must be at least 1")
	}
	if c.Failover.UnhealthyStreak < 1 {
		return fmt.Errorf("failover.unhealthy_streak must be at least 1")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address required when redis is enabled")
	}
	if c.Webhook.URL != "" {
		if _, err := url.ParseRequestURI(c.Webhook.URL); err != nil {
			return fmt.Errorf("webhook.url: %w", err)
		}
	}

	for name, cost := range c.Regions.Costs {
		if _, err := region.Parse(name); err != nil {
			return fmt.Errorf("regions.costs: %w", err)
		}
		if err := cost.Validate(); err != nil {
			return fmt.Errorf("regions.costs[%s]: %w", name, err)
		}
	}
	for i, rule := range c.Regions.CIDRRules {
		if _, _, err := net.ParseCIDR(rule.CIDR); err != nil {
			return fmt.Errorf("regions.cidr_rules[%d]: %w", i, err)
		}
		if _, err := region.Parse(rule.Region); err != nil {
			return fmt.Errorf("regions.cidr_rules[%d]: %w", i, err)
		}
	}
	return nil
}

// CostCatalog returns the built-in catalog with any configured per-region
// overrides applied. Call after Validate.
func (c *Config) CostCatalog() region.Catalog {
	catalog := region.DefaultCatalog()
	for name, cost := range c.Regions.Costs {
		r, err := region.Parse(name)
		if err != nil {
			continue
		}
		catalog[r] = cost
	}
	return catalog
}
