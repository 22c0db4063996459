package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/surfacehq/surface/internal/api"
	"github.com/surfacehq/surface/internal/config"
	"github.com/surfacehq/surface/internal/dag"
	"github.com/surfacehq/surface/internal/events"
	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/scan"
	"github.com/surfacehq/surface/internal/store"
)

func main() {
	listen := pflag.String("listen", "", "listen address (overrides EASM_LISTEN_ADDR)")
	migrate := pflag.Bool("migrate", false, "apply the schema before serving")
	pflag.Parse()

	cfg := config.Load()
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if err := config.ValidateRuntime(cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := st.EnsureSchema(ctx); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
		slog.Info("schema applied")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	m := metrics.New()
	broker := queue.NewRedisBroker(rdb, "surface:queue:")
	bus := events.NewRedisBus(rdb)
	executor := dag.NewExecutor(st, broker, m)
	scans := scan.NewService(st, broker)

	server := api.NewServer(cfg, st, scans, executor, bus, broker)
	if err := server.Start(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
