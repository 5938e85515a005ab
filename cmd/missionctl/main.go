package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	mchttp "github.com/Strob0t/MissionControl/internal/adapter/http"
	"github.com/Strob0t/MissionControl/internal/adapter/jsonfile"
	mcmcp "github.com/Strob0t/MissionControl/internal/adapter/mcp"
	mcnats "github.com/Strob0t/MissionControl/internal/adapter/nats"
	"github.com/Strob0t/MissionControl/internal/adapter/natskv"
	"github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/adapter/postgres"
	"github.com/Strob0t/MissionControl/internal/adapter/ristretto"
	"github.com/Strob0t/MissionControl/internal/adapter/tiered"
	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain/approval"
	"github.com/Strob0t/MissionControl/internal/logger"
	"github.com/Strob0t/MissionControl/internal/middleware"
	"github.com/Strob0t/MissionControl/internal/port/cache"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
	"github.com/Strob0t/MissionControl/internal/resilience"
	"github.com/Strob0t/MissionControl/internal/service"
)

const version = "0.1.0"

func main() {
	// Bootstrap logger until the configured one takes over.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "migrate" {
		if err := runMigrate(args[1:]); err != nil {
			slog.Error("migrate failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"config_file", yamlPath,
		"port", cfg.Server.Port,
		"store_backend", cfg.Store.Backend,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---

	otelShutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- State store ---

	var store statestore.Store
	switch cfg.Store.Backend {
	case "postgres":
		pool, perr := postgres.NewPool(ctx, cfg.Postgres)
		if perr != nil {
			return fmt.Errorf("postgres: %w", perr)
		}
		defer pool.Close()

		if merr := postgres.RunMigrations(ctx, cfg.Postgres.DSN); merr != nil {
			return fmt.Errorf("migrations: %w", merr)
		}
		slog.Info("postgres connected, migrations applied")
		store = postgres.NewStore(pool)
	default:
		js, jerr := jsonfile.Open(cfg.Store.Path)
		if jerr != nil {
			return fmt.Errorf("jsonfile store: %w", jerr)
		}
		slog.Info("jsonfile store opened", "path", cfg.Store.Path)
		store = js
	}

	// --- NATS ---

	queue, err := mcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// --- Graph cache: in-process L1 over a shared JetStream KV L2 ---

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()

	var graphCache cache.Cache = l1
	if kv, kerr := queue.KeyValue(ctx, "missionctl-graphs", cfg.Cache.GraphTTL); kerr != nil {
		slog.Warn("graph KV bucket unavailable, caching in-process only", "error", kerr)
	} else {
		graphCache = tiered.New(l1, natskv.New(kv), cfg.Cache.GraphTTL)
	}

	// --- Services ---

	hub := ws.NewHub()

	costSvc := service.NewCostService(cfg.Cost, metrics)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	dispatcher := service.NewDispatcherService(queue, breaker, costSvc, metrics,
		int64(cfg.Scheduler.MaxConcurrency), cfg.Scheduler.DispatchTimeout)

	graphSvc := service.NewGraphService(store, graphCache, hub, cfg.Cache.GraphTTL)
	queueSvc := service.NewQueueService(store, graphSvc, dispatcher, hub,
		cfg.Scheduler.MaxConcurrency, cfg.Scheduler.HistoryLimit)
	if err := queueSvc.RestoreHistory(ctx); err != nil {
		slog.Warn("queue history not restored", "error", err)
	}

	healSvc := service.NewSelfHealService(store, hub, metrics, cfg.SelfHeal.MaxPendingPerMission)
	approvalSvc, err := service.NewApprovalService(store, approval.DefaultPolicies())
	if err != nil {
		return fmt.Errorf("approval policies: %w", err)
	}

	watchdogSvc := service.NewWatchdogService(store, hub, healSvc, breaker, metrics, cfg.Watchdog)
	missionSvc := service.NewMissionService(store, hub, metrics)
	agentSvc := service.NewAgentService(store, queue, hub)

	// --- Subscribers and background loops ---

	cancelDispatch, err := dispatcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("dispatch subscriber: %w", err)
	}
	defer cancelDispatch()

	cancelHeartbeats, err := agentSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat subscriber: %w", err)
	}
	defer cancelHeartbeats()

	watchdogSvc.Start(ctx)
	defer watchdogSvc.Stop()

	// --- MCP server (director tools) ---

	if cfg.MCP.Enabled {
		mcpSrv := mcmcp.NewServer(
			mcmcp.ServerConfig{Addr: cfg.MCP.Addr, Name: cfg.MCP.Name, Version: version, APIKey: cfg.MCP.APIKey},
			mcmcp.ServerDeps{
				Missions:  missionSvc,
				Graphs:    graphSvc,
				Proposals: healSvc,
				Watchdog:  watchdogSvc,
			},
		)
		go func() {
			slog.Info("starting MCP server", "addr", cfg.MCP.Addr)
			if serr := mcpSrv.Start(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				slog.Error("mcp server failed", "error", serr)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// --- HTTP ---

	handlers := &mchttp.Handlers{
		Missions:  missionSvc,
		Queue:     queueSvc,
		Graphs:    graphSvc,
		Agents:    agentSvc,
		Healing:   healSvc,
		Watchdog:  watchdogSvc,
		Approvals: approvalSvc,
		Cost:      costSvc,
		Store:     store,
		Hub:       hub,
	}

	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopRLCleanup := rl.StartCleanup(time.Minute, 10*time.Minute)
	defer stopRLCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(rl.Handler)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(mchttp.SecurityHeaders)
	r.Use(mchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(mchttp.Logger)

	mchttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP re-reads the config file. Running components keep the values
	// they were constructed with; the reload validates edits and makes the
	// new config current for anything reading the holder.
	holder := config.NewHolder(cfg, yamlPath)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if rerr := holder.Reload(); rerr != nil {
				slog.Error("config reload failed", "error", rerr)
				continue
			}
			slog.Info("config reloaded", "config_file", yamlPath)
		}
	}()
	defer signal.Stop(reload)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serr)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// Let in-flight queue work settle before the deferred teardown runs.
	queueSvc.Wait()
	return nil
}
