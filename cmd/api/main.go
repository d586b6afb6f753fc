package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skaldera/vigil/internal/app/migrate"
	"github.com/skaldera/vigil/internal/blobstore"
	"github.com/skaldera/vigil/internal/config"
	httpx "github.com/skaldera/vigil/internal/http"
	"github.com/skaldera/vigil/internal/report"
	"github.com/skaldera/vigil/internal/repository/postgres"
	"github.com/skaldera/vigil/internal/service/auth"
	"github.com/skaldera/vigil/internal/service/ingest"
	"github.com/skaldera/vigil/internal/service/session"
	"github.com/skaldera/vigil/internal/ws"
	"github.com/skaldera/vigil/pkg/logger"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		logger.New("api", slog.LevelInfo).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("api", logger.ParseLevel(os.Getenv("VIGIL_LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	blobs, err := blobstore.New(cfg.RecordingDir)
	if err != nil {
		log.Error("failed to prepare recording storage", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(repo, log, *cfg)
	sessionSvc := session.New(repo, log)
	ingestSvc := ingest.New(repo, repo, hub, log)
	assembler := report.NewAssembler(repo, repo, cfg.RuleTable(), cfg.ReportTimelineLimit, cfg.ExportTimelineLimit, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, sessionSvc, ingestSvc, assembler, blobs, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
