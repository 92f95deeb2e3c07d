// Command cycled serves the treatment-cycle workflow API.
//
// Configuration is environment driven:
//
//	CYCLECORE_HTTP_ADDR         listen address (default :8080)
//	CYCLECORE_STORAGE_DRIVER    memory|sqlite|postgres (default sqlite)
//	CYCLECORE_SQLITE_PATH       sqlite database file (default ./cyclecore.db)
//	CYCLECORE_POSTGRES_DSN      postgres connection string
//	CYCLECORE_BLOB_DRIVER       fs|s3|memory (default fs)
//	CYCLECORE_BLOB_FS_ROOT      archive directory for the fs driver
//	CYCLECORE_BLOB_S3_BUCKET    bucket name for the s3 driver
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cyclecore/internal/archive"
	"cyclecore/internal/blob"
	"cyclecore/internal/core"
	"cyclecore/internal/engine"
	"cyclecore/internal/registry"
	httptransport "cyclecore/internal/transport/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("cycled exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := core.OpenCycleStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing cycle store", "error", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := core.NewPrometheusMetricsRecorder(promReg)
	if err != nil {
		return err
	}

	svc := core.NewService(store, engine.New(registry.Default()),
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithMetricsRecorder(recorder),
	)

	blobStore, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	worker := archive.NewWorker(store, blobStore)
	worker.Start()

	handler := httptransport.NewHandler(svc, worker, logger)
	handler.MetricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	addr := os.Getenv("CYCLECORE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cycled listening", "addr", addr, "blob_driver", string(blobStore.Driver()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return worker.Stop(shutdownCtx)
}
