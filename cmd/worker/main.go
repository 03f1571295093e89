package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/akarpov/archivarius/internal/bootstrap"
	"github.com/akarpov/archivarius/internal/config"
	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/observability/logging"
	"github.com/akarpov/archivarius/internal/observability/metrics"
)

const processTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go runRetentionSweeper(ctx, app, logger)

	concurrency := int64(cfg.WorkerConcurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	slots := semaphore.NewWeighted(concurrency)

	log.Printf("worker subscribed to %s", cfg.NATSEnqueueSubject)
	err = app.Queue.SubscribeJobEnqueued(ctx, func(handlerCtx context.Context, documentID string) error {
		if err := slots.Acquire(handlerCtx, 1); err != nil {
			return err
		}
		defer slots.Release(1)

		if job, err := app.Jobs.GetByID(handlerCtx, documentID); err == nil {
			workerMetrics.ObserveQueueLag("worker", time.Since(job.CreatedAt))
		}

		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		workerMetrics.StartDocument()
		processErr := app.Processor.ProcessDocument(processCtx, documentID)

		status := domain.JobStatus("unknown")
		if job, err := app.Jobs.GetByID(processCtx, documentID); err == nil {
			status = job.Status
		}
		workerMetrics.FinishDocument("worker", status)
		return processErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

// runRetentionSweeper periodically moves settled jobs and aged audit entries
// into their archive tables per the configured retention windows.
func runRetentionSweeper(ctx context.Context, app *bootstrap.App, logger *slog.Logger) {
	ticker := time.NewTicker(app.Pipeline.Retention.Sweep.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		now := time.Now().UTC()

		if moved, err := app.Jobs.ArchiveSettledBefore(sweepCtx, now.Add(-app.Pipeline.Retention.Jobs.Std())); err != nil {
			logger.Error("job retention sweep failed", "error", err)
		} else if moved > 0 {
			logger.Info("archived settled jobs", "count", moved)
		}

		if moved, err := app.Ledger.ArchiveBefore(sweepCtx, now.Add(-app.Pipeline.Retention.Audit.Std())); err != nil {
			logger.Error("audit retention sweep failed", "error", err)
		} else if moved > 0 {
			logger.Info("archived audit entries", "count", moved)
		}
		cancel()
	}
}
