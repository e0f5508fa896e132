// Command clipcheckd runs the clipcheck daemon: it drains the job queue and
// executes the fact-check pipeline until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"clipcheck/internal/config"
	"clipcheck/internal/daemon"
	"clipcheck/internal/evidence"
	"clipcheck/internal/llm"
	"clipcheck/internal/logging"
	"clipcheck/internal/pipeline"
	"clipcheck/internal/queue"
	"clipcheck/internal/router"
	"clipcheck/internal/telemetry"
	"clipcheck/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, found, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewForDaemon(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if !found {
		logger.Warn("config file not found, using defaults", logging.String("path", path))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	emitter := telemetry.NewLogEmitter(logger)
	stageRouter := router.New(
		llm.NewClient(cfg.LLM),
		router.ChainsFromConfig(cfg),
		emitter,
		logger,
	)
	limiter := evidence.NewFixedWindowLimiter(
		cfg.Evidence.RequestsPerWindow,
		time.Duration(cfg.Evidence.WindowSeconds)*time.Second,
	)
	searchers, err := evidence.SearchersFromConfig(cfg.Evidence, limiter)
	if err != nil {
		logger.Error("configure evidence sources", logging.Error(err))
		return
	}
	cache := evidence.NewCache(
		searchers,
		time.Duration(cfg.Evidence.CacheTTLSeconds)*time.Second,
		cfg.Evidence.MaxResults,
		logger,
	)
	executor := pipeline.NewExecutor(
		stageRouter,
		cache,
		pipeline.NewHTTPTranscriptProvider(cfg.Transcript),
		cfg.Pipeline,
		logger,
	)
	manager := workflow.NewManager(cfg, store, executor, emitter, logger)

	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("clipcheckd shutting down")
}
