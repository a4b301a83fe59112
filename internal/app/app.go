package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sumoctl/controller/internal/auth"
	"github.com/sumoctl/controller/internal/config"
	"github.com/sumoctl/controller/internal/httpapi"
	"github.com/sumoctl/controller/internal/httpserver"
	"github.com/sumoctl/controller/internal/logrelay"
	"github.com/sumoctl/controller/internal/orchestrator"
	"github.com/sumoctl/controller/internal/platform"
	"github.com/sumoctl/controller/internal/reconciler"
	"github.com/sumoctl/controller/internal/storageplanner"
	"github.com/sumoctl/controller/internal/store"
	"github.com/sumoctl/controller/internal/submission"
	"github.com/sumoctl/controller/internal/telemetry"
	"github.com/sumoctl/controller/internal/tenant"
)

// Run is the main application entry point. Given the loaded config, it
// connects to infrastructure and starts the appropriate mode: "api" (HTTP/SSE surface,
// accepts submissions) or "controller" (reconciler sweeps, no HTTP surface).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sumoctl", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBPoolMin, cfg.DBPoolMax)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	orch := orchestrator.NewK8sPort(cfg.Kubeconfig, logger)
	if !orch.Available() {
		logger.Warn("orchestrator unavailable at startup, continuing in degraded mode")
	}

	st := store.New(db)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, orch, st)
	case "controller":
		return runController(ctx, cfg, logger, orch, st)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runAPI serves the tenant-facing HTTP/SSE surface: registration, job
// submission, status/log/result reads, and the admin dashboard endpoints.
func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, orch orchestrator.Port, st *store.Store) error {
	metricsReg := telemetry.NewMetricsRegistry(append(telemetry.All(), httpserver.Collectors()...)...)

	authn := auth.NewAuthenticator(st, logger)
	srv := httpserver.NewServer(cfg, logger, db, orch, metricsReg, authn)

	isolator := tenant.New(orch, cfg.ResultStorageSizeGi, cfg.ResultStorageClassDef, logger)
	pipeline := submission.New(st, isolator, orch, cfg.MaxFileSizeMB, cfg.MaxJobDurationHours, logger)
	relay := logrelay.New(orch, logger)

	api := httpapi.New(st, st, isolator, pipeline, orch, relay, cfg, logger)
	api.MountPublic(srv.Router)
	api.MountAuthenticated(srv.APIRouter)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE log streams are long-lived
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runController runs the reconciler sweeps (timestamp/result-location
// backfill, upload completion, active-job transition) and the independently
// cadenced orphan config-blob sweep. It has no HTTP surface.
func runController(ctx context.Context, cfg *config.Config, logger *slog.Logger, orch orchestrator.Port, st *store.Store) error {
	sweepInterval, err := time.ParseDuration(cfg.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("parsing reconcile interval %q: %w", cfg.ReconcileInterval, err)
	}
	orphanInterval, err := time.ParseDuration(cfg.OrphanSweepInterval)
	if err != nil {
		return fmt.Errorf("parsing orphan sweep interval %q: %w", cfg.OrphanSweepInterval, err)
	}
	orphanAge := time.Duration(cfg.OrphanConfigMapMinAgeMins) * time.Minute
	configBlobCleanupDelay := time.Duration(cfg.ConfigMapCleanupDelaySecs) * time.Second

	planner := storageplanner.New(orch, storageplanner.Config{
		StorageType:         cfg.ResultStorageType,
		SizeGi:              cfg.ResultStorageSizeGi,
		Prefix:              cfg.ResultPrefix,
		S3Bucket:            cfg.S3Bucket,
		S3Region:            cfg.S3Region,
		GCSBucket:           cfg.GCSBucket,
		AzureStorageAccount: cfg.AzureStorageAccount,
		AzureContainer:      cfg.AzureContainer,
	}, logger)

	rec := reconciler.New(st, orch, planner, logger, sweepInterval, orphanInterval, orphanAge, configBlobCleanupDelay)

	logger.Info("controller started", "sweep_interval", sweepInterval, "orphan_sweep_interval", orphanInterval)
	rec.Run(ctx)
	return nil
}
