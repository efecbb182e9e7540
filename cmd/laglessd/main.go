package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lagless/engine/internal/behavior"
	"github.com/lagless/engine/internal/config"
	"github.com/lagless/engine/internal/data"
	"github.com/lagless/engine/internal/engine"
	"github.com/lagless/engine/internal/event"
	"github.com/lagless/engine/internal/reconcile"
	"github.com/lagless/engine/internal/rollback"
	"github.com/lagless/engine/internal/sim"
	"github.com/lagless/engine/internal/snapshot"
	"github.com/lagless/engine/internal/source"
	"github.com/lagless/engine/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("LAGLESS_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("name", cfg.Server.Name),
		zap.Int("tick_rate", cfg.Simulation.TickRate),
		zap.Float64("history_seconds", cfg.Simulation.HistorySeconds))

	// 3. Load arena and build the initial world
	arena, err := data.LoadArena(cfg.Assets.Arena)
	if err != nil {
		return fmt.Errorf("load arena: %w", err)
	}
	if cfg.Simulation.Seed != 0 {
		arena.Seed = cfg.Simulation.Seed
	}
	w := arena.Build()
	log.Info("arena loaded",
		zap.String("arena", arena.Name),
		zap.Int("entities", w.Len()),
		zap.Uint64("seed", arena.Seed))

	// 4. Behavior scripts
	luaEngine, err := behavior.NewEngine(cfg.Assets.Scripts, log)
	if err != nil {
		return fmt.Errorf("behavior engine: %w", err)
	}
	defer luaEngine.Close()

	// 5. Telemetry (optional)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder engine.Recorder
	if cfg.Telemetry.Enabled {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := telemetry.NewDB(dbCtx, cfg.Telemetry, log)
		cancel()
		if err != nil {
			return fmt.Errorf("telemetry db: %w", err)
		}
		defer db.Close()

		migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = telemetry.RunMigrations(migCtx, db.Pool)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}

		rec := telemetry.NewRecorder(telemetry.NewHitRepo(db), cfg.Telemetry.FlushInterval, cfg.Telemetry.BufferSize, log)
		rec.Start(ctx)
		defer rec.Stop()
		recorder = rec
		log.Info("telemetry enabled")
	}

	// 6. Core wiring
	hub := source.NewHub(cfg.Network.QueueSize, cfg.Network.WriteTimeout, log)
	sink := engine.NewSink(recorder)
	core := sim.NewSim(arena.Width, arena.Height, luaEngine, sink, sim.ParsePolicy(cfg.Rollback.ReplayEffects), log)
	store := snapshot.NewStore(cfg.Simulation.HistorySeconds, cfg.Simulation.TickRate)
	queue := event.NewQueue()
	coord := rollback.NewCoordinator(store, queue, core, core, cfg.Dt(), log)
	rec := reconcile.NewReconciler(reconcile.Config{
		BlendWindow:      cfg.Reconcile.BlendWindow,
		AppearDuration:   cfg.Reconcile.AppearDuration,
		TerminalDuration: cfg.Reconcile.TerminalDuration,
		SnapThreshold:    cfg.Reconcile.SnapThreshold,
	})
	loop := engine.NewLoop(w, core, store, queue, coord, rec, hub, sink, cfg.Dt(), cfg.Simulation.SnapshotEvery, log)

	// 7. HTTP server for detector and viewer connections
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := &http.Server{
		Addr:        cfg.Network.BindAddress,
		Handler:     mux,
		ReadTimeout: cfg.Network.ReadTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()
	log.Info("listening", zap.String("addr", cfg.Network.BindAddress))

	// 8. Game loop until shutdown
	err = loop.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
