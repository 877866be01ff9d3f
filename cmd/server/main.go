package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/studyhub/backend/internal/api"
	"github.com/studyhub/backend/internal/assets"
	"github.com/studyhub/backend/internal/auth"
	"github.com/studyhub/backend/internal/config"
	"github.com/studyhub/backend/internal/consensus"
	"github.com/studyhub/backend/internal/content"
	"github.com/studyhub/backend/internal/database"
	"github.com/studyhub/backend/internal/generation"
	"github.com/studyhub/backend/internal/jobs"
	"github.com/studyhub/backend/internal/judge"
	"github.com/studyhub/backend/internal/llm"
	"github.com/studyhub/backend/internal/lock"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/metrics"
	"github.com/studyhub/backend/internal/notify"
	"github.com/studyhub/backend/internal/store"
	"github.com/studyhub/backend/internal/store/memory"
	"github.com/studyhub/backend/internal/store/postgres"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, closeStore, err := openStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, err := lock.New(cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init locker: %w", err)
	}
	if c, ok := locker.(io.Closer); ok {
		defer c.Close()
	}

	images, err := assets.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init asset reader: %w", err)
	}

	client, err := llm.New(cfg.AI, log, m)
	if err != nil {
		return fmt.Errorf("init completion client: %w", err)
	}

	// Services
	notifier := notify.NewDispatcher(st, log, m)
	pool := jobs.NewPool(st, cfg.Worker, log, m)
	sched := jobs.NewScheduler(client != nil, pool)

	gen := generation.NewService(st, client, images, locker, cfg.Redis.LockTTL, log, m)
	judges := judge.NewService(st, client, images, notifier, log, m)
	jobs.RegisterHandlers(pool, sched, st, gen, judges)

	handler := api.NewHandler(
		content.NewService(st, sched, notifier, log),
		consensus.NewService(st, notifier, log),
		judges,
		notifier,
		log,
	)

	// Router
	r := api.NewRouter(handler, auth.NewHandler(st), auth.NewVerifier(cfg.Auth.JWTSecret), log)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", srv.Addr, "mode", cfg.Server.Mode, "store", cfg.Database.Driver, "ai", client != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.DatabaseConfig, log *logger.Logger) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("migrate: %w", err), db.Close())
	}
	log.Info("database ready")
	return postgres.New(db), func() {
		if err := db.Close(); err != nil {
			log.Warn("close database", "error", err)
		}
	}, nil
}
