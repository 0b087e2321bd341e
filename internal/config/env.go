// internal/config/env.go
package config

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnv overlays environment variables onto cfg. Values that fail to
// parse are skipped so a typo cannot take the process down.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("MERIDIAN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("MERIDIAN_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}

	if r := os.Getenv("MERIDIAN_DEFAULT_REGION"); r != "" {
		cfg.Balancer.DefaultRegion = r
	}
	if s := os.Getenv("MERIDIAN_STRATEGY"); s != "" {
		cfg.Balancer.Strategy = s
	}
	if r := os.Getenv("MERIDIAN_FAILOVER_REGION"); r != "" {
		cfg.Failover.InitialRegion = r
	}
	if iv := os.Getenv("MERIDIAN_CHECK_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			cfg.Failover.CheckInterval = d
		}
	}

	if ep := os.Getenv("MERIDIAN_PROBE_ENDPOINT"); ep != "" {
		cfg.Probe.Endpoint = ep
	}

	// Redis settings
	if enabled := os.Getenv("MERIDIAN_REDIS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if addr := os.Getenv("MERIDIAN_REDIS_ADDRESS"); addr != "" {
		cfg.Redis.Address = addr
	}
	if pass := os.Getenv("MERIDIAN_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}

	if u := os.Getenv("MERIDIAN_WEBHOOK_URL"); u != "" {
		cfg.Webhook.URL = u
	}
	if secret := os.Getenv("MERIDIAN_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}

	// Add more as needed for production
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
