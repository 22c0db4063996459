package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/surfacehq/surface/internal/alerting"
	"github.com/surfacehq/surface/internal/config"
	"github.com/surfacehq/surface/internal/dag"
	"github.com/surfacehq/surface/internal/events"
	"github.com/surfacehq/surface/internal/fingerprint"
	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/ratelimit"
	"github.com/surfacehq/surface/internal/risk"
	"github.com/surfacehq/surface/internal/scan"
	"github.com/surfacehq/surface/internal/store"
)

func main() {
	workers := pflag.Int("workers", 4, "concurrent worker goroutines")
	classes := pflag.StringSlice("classes", nil, "queue classes to subscribe to (default: all)")
	migrate := pflag.Bool("migrate", false, "apply the schema before pulling work")
	pflag.Parse()

	cfg := config.Load()
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

	ratelimit.InitDefault(ratelimit.NewRedisStore(rdb))
	if cfg.FingerprintDB != "" {
		fingerprint.SetDefaultPath(cfg.FingerprintDB)
	}

	m := metrics.New()
	broker := queue.NewRedisBroker(rdb, "surface:queue:")
	bus := events.NewRedisBus(rdb)
	executor := dag.NewExecutor(st, broker, m)
	router := events.NewRouter(st, executor)
	alerter := alerting.NewAlerter(st, broker, m)
	notifier := alerting.NewNotifier(st, m)
	calculator := risk.NewCalculator(st)
	runner := scan.NewRunner(st, broker, ratelimit.Scan(), executor, bus, fingerprint.Default, m, scan.Options{
		VerifyTLS:     cfg.ScanVerifyTLS,
		ScreenshotDir: cfg.ScreenshotDir,
	})

	pool := queue.NewWorkerPool(broker, *classes, *workers)

	pool.Register(queue.TypeRunScan, func(ctx context.Context, task *queue.Task) error {
		var p scan.RunPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		return runner.HandleTask(ctx, p.TaskID)
	})

	pool.Register(queue.TypeExecuteDAG, func(ctx context.Context, task *queue.Task) error {
		var p dag.ExecutePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		return executor.Execute(ctx, p.ExecutionID)
	})

	pool.Register(queue.TypeNodeCompleted, func(ctx context.Context, task *queue.Task) error {
		var p dag.NodeCompletedPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		return executor.OnNodeCompleted(ctx, p.ExecutionID, p.NodeID, p.Success)
	})

	pool.Register(queue.TypeProcessEvent, func(ctx context.Context, task *queue.Task) error {
		var ev events.Event
		if err := json.Unmarshal(task.Payload, &ev); err != nil {
			return err
		}
		_, err := router.Emit(ctx, ev)
		return err
	})

	pool.Register(queue.TypeCheckVulnAlert, func(ctx context.Context, task *queue.Task) error {
		var p scan.VulnAlertPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		return alerter.CheckVulnerability(ctx, &store.Vulnerability{
			ID:         p.VulnerabilityID,
			ProjectID:  p.ProjectID,
			Severity:   p.Severity,
			Name:       p.Name,
			TargetURL:  p.TargetURL,
			TemplateID: p.TemplateID,
		})
	})

	pool.Register(queue.TypeCheckRiskAlert, func(ctx context.Context, task *queue.Task) error {
		var score store.AssetRiskScore
		if err := json.Unmarshal(task.Payload, &score); err != nil {
			return err
		}
		return alerter.CheckRiskScore(ctx, &score)
	})

	pool.Register(queue.TypeSendNotify, func(ctx context.Context, task *queue.Task) error {
		var p alerting.SendPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		notifier.Send(ctx, p.ChannelID, p.AlertID, p.Data, p.Template)
		return nil
	})

	pool.Register(queue.TypeTestChannel, func(ctx context.Context, task *queue.Task) error {
		var p alerting.TestPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		notifier.TestChannel(ctx, p.ChannelID)
		return nil
	})

	pool.Register(queue.TypeCalculateRisk, func(ctx context.Context, task *queue.Task) error {
		var p risk.CalculatePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		score, err := calculator.CalculateAsset(ctx, p.ProjectID, p.AssetType, p.AssetID)
		if err != nil {
			return err
		}
		// Fan out: alert check plus the risk_scored event for triggers.
		if _, err := queue.Enqueue(ctx, broker, queue.TypeCheckRiskAlert, 5, score); err != nil {
			slog.Warn("risk alert dispatch failed", "asset", p.AssetID, "error", err)
		}
		ev := events.Event{
			ProjectID: p.ProjectID,
			Type:      events.TypeRiskScored,
			Data: store.JSONMap{
				"asset_id":   p.AssetID,
				"asset_type": p.AssetType,
				"severity":   score.SeverityLevel,
			},
		}
		if err := bus.Publish(ctx, ev); err != nil {
			slog.Warn("risk event publish failed", "asset", p.AssetID, "error", err)
		}
		if _, err := queue.Enqueue(ctx, broker, queue.TypeProcessEvent, 5, ev); err != nil {
			slog.Warn("risk event dispatch failed", "asset", p.AssetID, "error", err)
		}
		return nil
	})

	pool.Start(ctx)
	slog.Info("worker running", "workers", *workers)
	<-ctx.Done()
	pool.Shutdown()
	slog.Info("worker stopped")
}
