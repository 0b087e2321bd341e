// cmd/meridian/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harborline/meridian/internal/api"
	"github.com/harborline/meridian/internal/balancer"
	"github.com/harborline/meridian/internal/config"
	"github.com/harborline/meridian/internal/failover"
	"github.com/harborline/meridian/internal/metrics"
	"github.com/harborline/meridian/internal/monitor"
	"github.com/harborline/meridian/internal/notify"
	"github.com/harborline/meridian/internal/probe"
	"github.com/harborline/meridian/internal/region"
	"github.com/harborline/meridian/internal/strategy"
)

func main() {
	// Create logger with a hot-swappable level
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logCfg := zap.NewProductionConfig()
	logCfg.Level = level
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Load config
	configPath := flag.String("config", config.GetEnvOrDefault("MERIDIAN_CONFIG", ""),
		"path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}
	applyLogLevel(level, cfg.Server.LogLevel, logger)

	sink := metrics.NewPromSink()

	// Health-probe provider based on environment
	var prober probe.Prober
	if cfg.Probe.Endpoint != "" {
		httpProber, err := probe.NewHTTPProber(&probe.HTTPConfig{
			Endpoint: cfg.Probe.Endpoint,
			Timeout:  cfg.Probe.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal("creating http prober", zap.Error(err))
		}
		prober = httpProber
		logger.Info("using http health probes", zap.String("endpoint", cfg.Probe.Endpoint))
	} else {
		prober = probe.NewStaticProber()
		logger.Info("no probe endpoint configured, regions assumed healthy")
	}

	// Region-change notifiers
	var notifiers []notify.Notifier
	if cfg.Redis.Enabled {
		redisNotifier, err := notify.NewRedisNotifier(&notify.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		notifiers = append(notifiers, redisNotifier)
		logger.Info("publishing region changes to redis",
			zap.String("address", cfg.Redis.Address))
	}
	if cfg.Webhook.URL != "" {
		webhookNotifier, err := notify.NewWebhookNotifier(&notify.WebhookConfig{
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
		}, logger)
		if err != nil {
			logger.Fatal("creating webhook notifier", zap.Error(err))
		}
		notifiers = append(notifiers, webhookNotifier)
		logger.Info("posting region changes to webhook", zap.String("url", cfg.Webhook.URL))
	}

	var notifier notify.Notifier
	switch len(notifiers) {
	case 0:
		notifier = notify.NopNotifier{}
		logger.Info("no notifier configured, region changes logged only")
	case 1:
		notifier = notifiers[0]
	default:
		notifier = notify.NewMulti(notifiers...)
	}
	defer func() { _ = notifier.Close() }()

	// Geographic routing rules
	var resolver strategy.Resolver
	if len(cfg.Regions.CIDRRules) > 0 {
		rules := make([]strategy.CIDRRule, 0, len(cfg.Regions.CIDRRules))
		for _, rule := range cfg.Regions.CIDRRules {
			reg, err := region.Parse(rule.Region)
			if err != nil {
				continue
			}
			rules = append(rules, strategy.CIDRRule{CIDR: rule.CIDR, Region: reg})
		}
		cidrResolver, err := strategy.NewCIDRResolver(rules)
		if err != nil {
			logger.Fatal("building cidr resolver", zap.Error(err))
		}
		resolver = cidrResolver
		logger.Info("geographic routing enabled", zap.Int("rules", len(rules)))
	}

	defaultRegion, err := region.Parse(cfg.Balancer.DefaultRegion)
	if err != nil {
		logger.Fatal("invalid default region", zap.Error(err))
	}
	picker := strategy.NewPicker(&strategy.PickerConfig{
		Resolver:      resolver,
		DefaultRegion: defaultRegion,
		Logger:        logger,
	})

	// Balancer
	bcfg := balancer.DefaultConfig()
	bcfg.DefaultRegion = defaultRegion
	bcfg.MaxRequestsPerRegion = cfg.Balancer.MaxRequestsPerRegion
	bcfg.HealthRefreshInterval = cfg.Balancer.HealthRefreshInterval
	bcfg.RebalanceInterval = cfg.Balancer.RebalanceInterval
	bcfg.PredictiveInterval = cfg.Balancer.PredictiveInterval
	bcfg.Costs = cfg.CostCatalog()
	if cfg.Balancer.Strategy != "" && cfg.Balancer.Strategy != config.StrategyComposite {
		fixed, err := strategy.Parse(cfg.Balancer.Strategy)
		if err != nil {
			logger.Fatal("invalid strategy", zap.Error(err))
		}
		bcfg.Strategy = fixed
	}

	bal, err := balancer.New(bcfg, prober, sink, picker, logger)
	if err != nil {
		logger.Fatal("creating balancer", zap.Error(err))
	}

	// Monitors feeding the balancer
	resourceMonitor, err := monitor.NewResourceMonitor(nil, monitor.NewHostSampler(), bal, logger)
	if err != nil {
		logger.Fatal("creating resource monitor", zap.Error(err))
	}
	latencyMonitor, err := monitor.NewLatencyMonitor(nil, bal, logger)
	if err != nil {
		logger.Fatal("creating latency monitor", zap.Error(err))
	}

	// Failover manager
	initialRegion, err := region.Parse(cfg.Failover.InitialRegion)
	if err != nil {
		logger.Fatal("invalid initial region", zap.Error(err))
	}
	fcfg := failover.DefaultConfig()
	fcfg.InitialRegion = initialRegion
	fcfg.CheckInterval = cfg.Failover.CheckInterval
	fcfg.FailingThreshold = cfg.Failover.FailingThreshold
	fcfg.UnhealthyStreak = cfg.Failover.UnhealthyStreak

	manager, err := failover.New(fcfg, prober, notifier, sink, logger)
	if err != nil {
		logger.Fatal("creating failover manager", zap.Error(err))
	}

	// HTTP surface
	limiter := api.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	server, err := api.NewServer(bal, manager, limiter, logger)
	if err != nil {
		logger.Fatal("creating api server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed health scores before taking traffic
	bal.RefreshNow(ctx)

	if err := bal.Start(ctx); err != nil {
		logger.Fatal("starting balancer", zap.Error(err))
	}
	if err := resourceMonitor.Start(ctx); err != nil {
		logger.Fatal("starting resource monitor", zap.Error(err))
	}
	if err := latencyMonitor.Start(ctx); err != nil {
		logger.Fatal("starting latency monitor", zap.Error(err))
	}
	if err := manager.Start(ctx); err != nil {
		logger.Fatal("starting failover manager", zap.Error(err))
	}

	// Reload log level, rate limits and the cost catalog on config rewrites
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(updated *config.Config) {
			applyLogLevel(level, updated.Server.LogLevel, logger)
			limiter.Update(updated.Server.RateLimit, updated.Server.RateBurst)
			if err := bal.ApplyCosts(updated.CostCatalog()); err != nil {
				logger.Warn("cost catalog not replaced", zap.Error(err))
			}
			logger.Info("applied reloadable settings, structural changes need a restart")
		}, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else if err := watcher.Start(); err != nil {
			logger.Warn("config watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		cancel()
		manager.Stop()
		latencyMonitor.Stop()
		resourceMonitor.Stop()
		bal.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	strategyName := cfg.Balancer.Strategy
	if strategyName == "" {
		strategyName = config.StrategyComposite
	}
	fmt.Printf("\n")
	fmt.Printf("╔══════════════════════════════════════╗\n")
	fmt.Printf("║      Meridian Controller Started     ║\n")
	fmt.Printf("╠══════════════════════════════════════╣\n")
	fmt.Printf("║  API: http://localhost:%-13d ║\n", cfg.Server.Port)
	fmt.Printf("║  Strategy: %-25s ║\n", strategyName)
	fmt.Printf("║  Active region: %-20s ║\n", cfg.Failover.InitialRegion)
	fmt.Printf("╚══════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("meridian stopped")
}

// applyLogLevel sets the process log level, ignoring names that fail to
// parse so a bad reload cannot silence logging.
func applyLogLevel(level zap.AtomicLevel, name string, logger *zap.Logger) {
	parsed, err := zapcore.ParseLevel(name)
	if err != nil {
		logger.Warn("unknown log level", zap.String("level", name))
		return
	}
	level.SetLevel(parsed)
}
