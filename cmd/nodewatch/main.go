package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/health"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/server"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/snapshot"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/source"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/sysinfo"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/tracing"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	shutdownMgr := shutdown.New(shutdown.Config{
		Timeout: 15 * time.Second,
		Logger:  logger,
	})

	var provider config.Provider = config.NewStatic(cfg)
	watcher, err := config.NewWatcher(*configFile, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Config hot reload disabled")
	} else {
		watcher.OnReload(func(next *config.Config) {
			if changed := cfg.RestartRequired(next); len(changed) > 0 {
				logger.Warn().
					Strs("services", changed).
					Msg("Service name and log source changes take effect after a restart")
			}
		})
		watcher.Start()
		shutdownMgr.RegisterComponent(watcher)
		provider = watcher
	}

	tracer, err := tracing.NewProvider(context.Background(), tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdownMgr.RegisterComponent(tracer)

	var collector *metrics.Collector
	registryOpts := source.RegistryOptions{
		Breaker: cfg.Reliability.CircuitBreaker,
		Logger:  logger,
	}
	recorder := snapshot.Recorder(nil)
	var observer server.RequestObserver
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		collector.Start()
		shutdownMgr.RegisterFunc("metrics", func(ctx context.Context) error {
			collector.Stop()
			return nil
		})
		registryOpts.Observer = collector
		registryOpts.BreakerWatcher = collector
		recorder = collector
		observer = collector
	}

	sources, err := source.NewRegistryFromConfig(cfg, registryOpts)
	if err != nil {
		return fmt.Errorf("failed to create log sources: %w", err)
	}
	shutdownMgr.RegisterComponent(sources)

	checker := health.NewChecker(5 * time.Second)
	for _, src := range sources.Sources() {
		checker.Register("source/"+src.Service(), health.SourceCheck(src))
	}
	checker.Register("config", health.CheckFunc(func() (bool, string) {
		return provider.Current() != nil, "configuration loaded"
	}))

	sampler := sysinfo.NewSampler(nil, sysinfo.Config{
		Timeout:            cfg.System.Timeout,
		ExcludeFilesystems: cfg.System.ExcludeFilesystems,
	}, logger)

	assembler := snapshot.New(snapshot.Options{
		Config:           provider,
		Sources:          sources,
		ChainService:     cfg.Services.Chain.Name,
		ConsensusService: cfg.Services.Consensus.Name,
		System:           sampler,
		Recorder:         recorder,
		Logger:           logger,
	})

	srvCfg := server.Config{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		StaticDir:    cfg.Server.StaticDir,
		RateLimit:    cfg.Server.RateLimit,
		Profiling:    cfg.Server.Profiling,
		MetricsPath:  cfg.Metrics.Path,
		Builder:      assembler,
		Health:       checker,
		Observer:     observer,
		Logger:       logger,
	}
	if collector != nil {
		srvCfg.Metrics = collector.Handler()
	}

	srv := server.New(srvCfg)
	if err := srv.Start(); err != nil {
		return err
	}
	shutdownMgr.RegisterComponent(srv)

	endpoints := []string{server.StatsPath, server.HealthPath, server.ReadinessPath}
	if collector != nil {
		endpoints = append(endpoints, cfg.Metrics.Path)
	}
	logger.Info().
		Str("version", version).
		Str("address", srv.Addr()).
		Strs("endpoints", endpoints).
		Str("chain_source", cfg.Services.Chain.Name+"/"+cfg.Services.Chain.Source.Type).
		Str("consensus_source", cfg.Services.Consensus.Name+"/"+cfg.Services.Consensus.Source.Type).
		Msg("Node monitor started")

	shutdownMgr.WaitForSignal()

	if n := shutdownMgr.Failures(); n > 0 {
		return fmt.Errorf("%d components failed to shut down cleanly", n)
	}
	return nil
}
