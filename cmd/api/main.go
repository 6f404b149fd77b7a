package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/internal/config"
	"github.com/zhouzirui/user-table/backend/internal/gql"
	"github.com/zhouzirui/user-table/backend/internal/handler"
	"github.com/zhouzirui/user-table/backend/internal/logging"
	"github.com/zhouzirui/user-table/backend/internal/metrics"
	"github.com/zhouzirui/user-table/backend/internal/model/user"
	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// The store lives for the whole process and is handed to everything that needs it.
	store := user.NewMemoryStore(user.Seed(cfg.Users.Seed, cfg.Users.Count))
	users := usersvc.NewService(store, usersvc.Config{EventBuffer: cfg.Server.EventBuffer}, logger, m)
	logger.Info("user store seeded", zap.Int64("seed", cfg.Users.Seed), zap.Int("users", store.Len()))

	schema, err := gql.NewSchema(gql.NewResolver(users), gql.Options{
		MaxDepth:       cfg.GraphQL.MaxDepth,
		MaxParallelism: cfg.GraphQL.MaxParallelism,
	}, logger)
	if err != nil {
		logger.Fatal("failed to parse graphql schema", zap.Error(err))
	}

	router := handler.NewRouter(handler.Deps{
		Schema:   schema,
		Users:    users,
		Gatherer: reg,
		Logger:   logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("user table backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
