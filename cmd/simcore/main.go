package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/simcore/engine/internal/config"
	"github.com/simcore/engine/internal/data"
	"github.com/simcore/engine/internal/engine"
	"github.com/simcore/engine/internal/persist"
	"github.com/simcore/engine/internal/resource"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/simcore.toml"
	if p := os.Getenv("SIMCORE_CONFIG"); p != "" {
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

	if stop := startProfile(cfg.Profile); stop != nil {
		defer stop()
		log.Info("profiling enabled", zap.String("mode", cfg.Profile.Mode), zap.String("path", cfg.Profile.Path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Resource source: the file tree or the resources table
	var src resource.Source = resource.FileSource{Root: cfg.Resources.Root}
	if cfg.Resources.Source == "postgres" {
		dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := persist.NewDB(dbCtx, cfg.Database, log)
		if err != nil {
			dbCancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		err = persist.RunMigrations(dbCtx, db.Pool, log)
		dbCancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		src = persist.NewResourceRepo(db)
	}
	log.Info("resource source", zap.String("source", cfg.Resources.Source), zap.String("root", cfg.Resources.Root))

	// 4. Build the engine
	eng, err := engine.New(ctx, cfg, src, log)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Error("engine shutdown", zap.Error(err))
		}
	}()

	// 5. Preload manifest
	if cfg.Data.Manifest != "" {
		m, err := data.LoadManifest(cfg.Data.Manifest)
		switch {
		case err == nil:
			if err := eng.Preload(m); err != nil {
				return fmt.Errorf("preload: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Warn("manifest not found, nothing preloaded", zap.String("path", cfg.Data.Manifest))
		default:
			return fmt.Errorf("manifest: %w", err)
		}
	}

	// 6. Frame loop until SIGINT/SIGTERM
	go logFrameStats(ctx, eng, log)

	log.Info("simulation started",
		zap.String("run", eng.RunID.String()),
		zap.Duration("frame_interval", eng.FrameInterval()),
	)
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.Info("shutdown signal received, stopping")
	return nil
}

// logFrameStats reports frame timing every 10 seconds until ctx is done.
func logFrameStats(ctx context.Context, eng *engine.Engine, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := eng.FrameTimes()
			log.Debug("frame times",
				zap.Uint64("frame", eng.Scheduler.Frame()),
				zap.Int("entities", eng.World.EntityCount()),
				zap.Int("resources", eng.Resources.Len()),
				zap.Duration("avg", st.Average),
				zap.Duration("min", st.Min),
				zap.Duration("max", st.Max),
			)
		case <-ctx.Done():
			return
		}
	}
}

// startProfile starts the profiler selected by cfg.Mode and returns its
// stop function, or nil when profiling is off.
func startProfile(cfg config.ProfileConfig) func() {
	var mode func(*profile.Profile)
	switch cfg.Mode {
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfileAllocs
	case "trace":
		mode = profile.TraceProfile
	default:
		return nil
	}
	opts := []func(*profile.Profile){mode, profile.NoShutdownHook}
	if cfg.Path != "" {
		opts = append(opts, profile.ProfilePath(cfg.Path))
	}
	return profile.Start(opts...).Stop
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
