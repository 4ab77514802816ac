package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/api"
	"github.com/Morgan141414/ViewPersonal/internal/compliance"
	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/engine"
	"github.com/Morgan141414/ViewPersonal/internal/hub"
	"github.com/Morgan141414/ViewPersonal/internal/ingest"
	"github.com/Morgan141414/ViewPersonal/internal/insight"
	"github.com/Morgan141414/ViewPersonal/internal/state"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/compliance.yaml", "Path to compliance model YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	slog.Info("compliance model loaded", "zones", len(cfg.Zones), "regulations", len(cfg.Regulations))

	// ── Core state ────────────────────────────────────────────────────────────
	store := state.New(time.Duration(cfg.Presence.AwayTimeoutSec)*time.Second, cfg.Presence.DedupPerSubj)
	evaluator := compliance.NewEvaluator(store, compliance.BuildModel(cfg))
	window := insight.NewWindow(
		time.Duration(cfg.Insight.LateGraceMin)*time.Minute,
		time.Duration(cfg.Insight.TimelineRetainH)*time.Hour,
		time.Duration(cfg.Insight.TrendRetainDays)*24*time.Hour,
	)
	recent := insight.NewRecent(cfg.Insight.RecentRingEvents)
	broadcast := hub.New(cfg.Presence.ViewerQueue, logger)

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(ctx, store, evaluator, window, recent, broadcast,
		cfg.Engine, time.Duration(cfg.Presence.MaxSkewSec)*time.Second, logger)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		evaluator.SetModel(compliance.BuildModel(newCfg))
		slog.Info("compliance model hot-reloaded", "zones", len(newCfg.Zones))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Broker sources (optional) ─────────────────────────────────────────────
	if len(cfg.Sources.Kafka.Brokers) > 0 {
		src, err := ingest.NewKafkaSource(cfg.Sources.Kafka, eng, logger)
		if err != nil {
			slog.Error("kafka source init failed", "err", err)
			os.Exit(1)
		}
		defer src.Close()
		go func() {
			if err := src.Run(ctx); err != nil {
				slog.Error("kafka source stopped", "err", err)
			}
		}()
	}
	if cfg.Sources.MQTT.Broker != "" {
		src, err := ingest.NewMQTTSource(cfg.Sources.MQTT, eng, logger)
		if err != nil {
			slog.Error("mqtt source init failed", "err", err)
			os.Exit(1)
		}
		defer src.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(eng, store, evaluator, window, recent, broadcast, loader)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop worker pool and background loops
	eng.Shutdown()
	slog.Info("goodbye")
}
