package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/quantegy/ordergate/params"
	"github.com/quantegy/ordergate/pkg/api"
	"github.com/quantegy/ordergate/pkg/auth"
	"github.com/quantegy/ordergate/pkg/cache"
	"github.com/quantegy/ordergate/pkg/engine"
	"github.com/quantegy/ordergate/pkg/metrics"
	"github.com/quantegy/ordergate/pkg/server"
	"github.com/quantegy/ordergate/pkg/storage"
	"github.com/quantegy/ordergate/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (optionally tee to a file)
	logger, err := util.NewLogger()
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- External collaborators ----
	store, err := storage.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		sugar.Fatalw("postgres_init_failed", "err", err)
	}
	defer store.Close()

	redisCache, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		sugar.Fatalw("redis_init_failed", "err", err)
	}
	defer redisCache.Close()

	var journal *storage.Journal
	if cfg.JournalPath != "" {
		journal, err = storage.OpenJournal(cfg.JournalPath)
		if err != nil {
			sugar.Fatalw("journal_init_failed", "path", cfg.JournalPath, "err", err)
		}
		defer journal.Close()
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTPublicKey)
	if err != nil {
		sugar.Fatalw("jwt_key_invalid", "err", err)
	}

	// ---- Core ----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	eng := engine.New(store, redisCache, journal, util.RealClock{}, sugar, m)
	gateway := server.New(cfg.Server, eng, verifier, sugar, m)
	ops := api.NewServer(cfg.Server.OpsAddr, store, redisCache, registry, sugar)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gateway.Serve(gctx) })
	g.Go(func() error { return ops.Start() })
	g.Go(func() error {
		<-gctx.Done()
		sugar.Infow("shutdown_signal_received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		sugar.Fatalw("gateway_failed", "err", err)
	}
	sugar.Infow("shutdown_complete")
}
