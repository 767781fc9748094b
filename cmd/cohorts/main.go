// Package main runs the cohort engine over a ledger feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"utxo-cohort-lab/internal/config"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/ledger"
	"utxo-cohort-lab/internal/logging"
	"utxo-cohort-lab/internal/observability"
	"utxo-cohort-lab/internal/pipeline"
	"utxo-cohort-lab/internal/publish"
	"utxo-cohort-lab/internal/storage/backend"
	"utxo-cohort-lab/internal/timeindex"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	store := flag.String("store", "", "Column store backend: memory, postgres, clickhouse, sqlite")
	feed := flag.String("feed", "", "Ledger feed kind: file, ws, synthetic")
	feedPath := flag.String("feed-path", "", "JSONL block file for -feed=file")
	feedURL := flag.String("feed-url", "", "Websocket endpoint for -feed=ws")
	blocks := flag.Int("blocks", 0, "Chain length for -feed=synthetic")
	stopHeight := flag.Uint64("stop-height", 0, "Stop before this height (0 runs until the feed ends)")
	flushInterval := flag.Uint64("flush-interval", 0, "Heights per batched flush")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (\"off\" to disable)")
	redisAddr := flag.String("redis-addr", "", "Redis address for height notifications")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store":
			cfg.Store.Backend = *store
		case "feed":
			cfg.Feed.Kind = *feed
		case "feed-path":
			cfg.Feed.Path = *feedPath
		case "feed-url":
			cfg.Feed.URL = *feedURL
		case "blocks":
			cfg.Feed.Blocks = *blocks
		case "stop-height":
			cfg.StopHeight = *stopHeight
		case "flush-interval":
			cfg.FlushInterval = *flushInterval
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "redis-addr":
			cfg.Redis.Addr = *redisAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, finishing current batch", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(60 * time.Second):
			logger.Warn("graceful shutdown timed out after 60s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, "")

	// Start metrics server if enabled
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != "off" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: observability.NewServeMux(reg)}
		go func() {
			logger.Info("starting metrics server", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	stores, err := backend.Open(ctx, cfg, logger.Named("storage"))
	if err != nil {
		return err
	}
	defer stores.Close()

	source, err := openFeed(ctx, cfg.Feed, logger.Named("feed"))
	if err != nil {
		return err
	}
	defer source.Close()

	var publisher publish.Publisher = publish.Nop{}
	if cfg.Redis.Addr != "" {
		rp, err := publish.NewRedis(ctx, publish.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
			Logger:       logger.Named("publish"),
			OnError:      metrics.PublishErrors.Inc,
		})
		if err != nil {
			return err
		}
		publisher = rp
	}
	defer publisher.Close()

	resolutions := make([]timeindex.Resolution, 0, len(cfg.RollupResolutions))
	for _, s := range cfg.RollupResolutions {
		r, err := timeindex.ParseResolution(s)
		if err != nil {
			return err
		}
		resolutions = append(resolutions, r)
	}

	p, err := pipeline.New(ctx, pipeline.Options{
		Columns:            stores.Columns,
		Checkpoints:        stores.Checkpoints,
		Source:             source,
		PriceTracking:      cfg.PriceTracking,
		FlushInterval:      cfg.FlushInterval,
		CheckpointInterval: cfg.Checkpoint.Interval,
		CheckpointKeep:     cfg.Checkpoint.Keep,
		Workers:            cfg.ReconcileWorkers,
		Resolutions:        resolutions,
		StopHeight:         domain.Height(cfg.StopHeight),
		ProgressEvery:      cfg.LogProgressEvery,
		Metrics:            metrics,
		Publisher:          publisher,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("run finished",
		zap.String("stopped", res.Stopped),
		zap.Uint64("resume_height", uint64(res.Resume.Start)),
		zap.Int("applied", res.Applied),
		zap.Int("flushes", res.Flushes),
		zap.Int("checkpoints", res.Checkpoints),
		zap.Uint64("next_height", uint64(res.Next)))
	return nil
}

func openFeed(ctx context.Context, fc config.FeedConfig, logger *zap.Logger) (ledger.Source, error) {
	switch fc.Kind {
	case config.FeedFile:
		return ledger.OpenFile(fc.Path, logger)
	case config.FeedWS:
		return ledger.DialWS(ctx, fc.URL, nil, logger)
	case config.FeedSynthetic:
		sc := ledger.DefaultSyntheticConfig()
		sc.Blocks = fc.Blocks
		if fc.Seed != 0 {
			sc.Seed = fc.Seed
		}
		return ledger.NewMemorySource(ledger.Synthetic(sc)), nil
	}
	return nil, fmt.Errorf("unknown feed kind %q", fc.Kind)
}
