package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/gyaneshwarpardhi/fraudguard/internal/api"
	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/directory"
	"github.com/gyaneshwarpardhi/fraudguard/internal/engine"
	"github.com/gyaneshwarpardhi/fraudguard/internal/fraud"
	"github.com/gyaneshwarpardhi/fraudguard/internal/logging"
	"github.com/gyaneshwarpardhi/fraudguard/internal/model"
	"github.com/gyaneshwarpardhi/fraudguard/internal/traces"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/policy.yaml", "Path to policy YAML config")
	flag.Parse()

	env := config.LoadEnv()
	logger := logging.New(env.LogLevel, env.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := traces.Init(ctx, env.OTLPEndpoint, logger)
	if err != nil {
		slog.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}

	// ── Load policy ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load policy", "err", err)
		os.Exit(1)
	}
	policy, err := fraud.CompilePolicy(loader.Config())
	if err != nil {
		slog.Error("failed to compile policy", "err", err)
		os.Exit(1)
	}
	slog.Info("policy loaded", "version", policy.Version, "boosts", policy.Risk.Rules.Len())

	// ── Account directory ────────────────────────────────────────────────────
	dir, closeDir, err := openDirectory(ctx, env)
	if err != nil {
		slog.Error("failed to open account directory", "err", err)
		os.Exit(1)
	}
	defer closeDir()

	// ── Models ───────────────────────────────────────────────────────────────
	models := model.NewEnsemble(model.MustTrainSeed(), model.NewOnlineLearner(model.DefaultLearningRate))

	svc := fraud.NewService(dir, models, policy)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	svc.Follow(loader)
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("policy watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(ctx, svc, loader.Config().Engine)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.New(svc, eng, loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	eng.Shutdown()
	cancel()
	if err := shutdownTracing(shutCtx); err != nil {
		slog.Warn("tracing shutdown failed", "err", err)
	}
	slog.Info("goodbye", "pending", svc.PendingCount())
}

// openDirectory picks PostgreSQL when DATABASE_URL is set, otherwise the JSON
// seed file, otherwise an empty in-memory directory.
func openDirectory(ctx context.Context, env config.Env) (directory.Directory, func(), error) {
	if env.DatabaseURL != "" {
		db, err := sql.Open("postgres", env.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pg := directory.NewPostgres(db)
		if err := pg.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("account directory: postgres")
		return pg, func() { db.Close() }, nil
	}

	mem, err := directory.LoadSeedFile(env.AccountsFile)
	switch {
	case err == nil:
		slog.Info("account directory: seed file", "path", env.AccountsFile)
		return mem, func() {}, nil
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("seed file not found, starting with an empty directory", "path", env.AccountsFile)
		return directory.NewMemory(), func() {}, nil
	default:
		return nil, nil, err
	}
}
