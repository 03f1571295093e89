package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/akarpov/archivarius/internal/config"
	"github.com/akarpov/archivarius/internal/core/domain"
	"github.com/akarpov/archivarius/internal/core/ports"
	"github.com/akarpov/archivarius/internal/core/usecase"
	"github.com/akarpov/archivarius/internal/infrastructure/provider/httpstage"
	"github.com/akarpov/archivarius/internal/infrastructure/provider/localpdf"
	"github.com/akarpov/archivarius/internal/infrastructure/queue/nats"
	"github.com/akarpov/archivarius/internal/infrastructure/repository/postgres"
	"github.com/akarpov/archivarius/internal/infrastructure/resilience"
	"github.com/akarpov/archivarius/internal/infrastructure/storage/localfs"
)

type App struct {
	Config   config.Config
	Pipeline config.Pipeline

	Queue  ports.MessageQueue
	Jobs   ports.JobStore
	Ledger ports.AuditLedger

	EnqueueUC    ports.DocumentEnqueuer
	Processor    ports.DocumentProcessor
	ReviewUC     ports.ReviewService
	DeadLetterUC ports.DeadLetterAdmin
	AuditUC      ports.AuditService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	pipeline, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	jobs := postgres.NewJobRepository(db)
	ledger := postgres.NewAuditRepository(db)
	dlq := postgres.NewDeadLetterRepository(db)

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    pipeline.Retry.MaxAttempts,
		RetryInitialBackoff: pipeline.Retry.BaseDelay.Std(),
		RetryMaxBackoff:     pipeline.Retry.MaxDelay.Std(),
		RetryMultiplier:     pipeline.Retry.Multiplier,
		RetryJitterFraction: pipeline.Retry.JitterFraction,
		BreakerEnabled:      true,
	})

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSEnqueueSubject, cfg.NATSSettledSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, fmt.Errorf("init stage providers: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	enqueueUC := usecase.NewEnqueueDocumentUseCase(jobs, queue)
	processor := usecase.NewOrchestrator(jobs, ledger, dlq, queue, providers, executor, pipeline, hostname, log)
	reviewUC := usecase.NewReviewUseCase(jobs, ledger, dlq, queue, pipeline, log)
	deadLetterUC := usecase.NewDeadLetterAdminUseCase(jobs, ledger, dlq, queue, log)
	auditUC := usecase.NewAuditUseCase(ledger)

	return &App{
		Config:   cfg,
		Pipeline: pipeline,

		Queue:  queue,
		Jobs:   jobs,
		Ledger: ledger,

		EnqueueUC:    enqueueUC,
		Processor:    processor,
		ReviewUC:     reviewUC,
		DeadLetterUC: deadLetterUC,
		AuditUC:      auditUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// buildProviders wires the four stage providers. "localpdf" swaps only the
// extraction stage for the in-process PDF extractor; the rest stay remote.
func buildProviders(cfg config.Config) (map[domain.Stage]ports.StageProvider, error) {
	providers := map[domain.Stage]ports.StageProvider{
		domain.StageExtraction:     httpstage.NewExtractor(httpstage.NewClient(cfg.ExtractorURL)),
		domain.StageTranslation:    httpstage.NewTranslator(httpstage.NewClient(cfg.TranslatorURL)),
		domain.StageClassification: httpstage.NewClassifier(httpstage.NewClient(cfg.ClassifierURL), cfg.ClassifierAcceptsUntranslated),
		domain.StageFinalize:       httpstage.NewFinalizer(httpstage.NewClient(cfg.FinalizerURL)),
	}

	if cfg.ProviderMode == "localpdf" {
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		providers[domain.StageExtraction] = localpdf.NewExtractor(storage)
	}
	return providers, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
