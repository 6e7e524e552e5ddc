package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/core/usecase"
	"github.com/kirillkom/docflow/internal/infrastructure/assembler/pdfrender"
	"github.com/kirillkom/docflow/internal/infrastructure/embedcache"
	"github.com/kirillkom/docflow/internal/infrastructure/extractor"
	"github.com/kirillkom/docflow/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/docflow/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docflow/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/docflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docflow/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
	"github.com/kirillkom/docflow/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/docflow/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

const maxPDFTextBytes = 8 << 20

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry

	Repo       *postgres.DocumentRepository
	Artifacts  ports.ArtifactStore
	Events     *nats.Publisher
	Ingestor   *usecase.Coordinator
	Reconciler *usecase.Reconciler

	Pipeline  *metrics.PipelineMetrics
	Reconcile *metrics.ReconcileMetrics

	closers []func()
}

// New wires the whole pipeline for one process. service labels logs and metrics.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: metrics.NewRegistry(),
	}
	app.Pipeline = metrics.NewPipelineMetrics(service, app.Registry)
	app.Reconcile = metrics.NewReconcileMetrics(service, app.Registry)

	executor := resilience.NewExecutor(
		cfg.Resilience,
		resilience.WithLogger(logger),
		resilience.WithStateListener(app.Pipeline.BreakerStateChanged),
	)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Repo = repo

	artifacts, err := newArtifactStore(ctx, cfg, executor)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	if closer, ok := artifacts.(interface{ Close() error }); ok {
		app.closers = append(app.closers, func() { _ = closer.Close() })
	}
	app.Artifacts = artifacts

	var events ports.EventPublisher = nats.Discard{}
	if cfg.EventsEnabled {
		publisher, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		app.closers = append(app.closers, publisher.Close)
		app.Events = publisher
		events = publisher
	}

	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaOCRModel,
		cfg.OllamaEmbedModel,
		ollama.WithExecutor(executor),
		ollama.WithRateLimit(cfg.OCRRateLimitRPS, int(cfg.OCRRateLimitRPS)+1),
	)

	imageExtractor, err := newImageExtractor(cfg, ollamaClient, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	renderer := pdfrender.NewRenderer()
	pdfExtractor := extractor.NewScannedPDF(
		pdftext.NewExtractor(maxPDFTextBytes),
		renderer,
		imageExtractor,
		cfg.OCRMaxPDFPages,
		logger,
	)
	textExtractor := extractor.NewRouter(pdfExtractor, imageExtractor)

	var embedder ports.Embedder
	if cfg.EmbeddingsEnabled {
		embedder = embedcache.New(ollama.NewEmbedder(ollamaClient), cfg.EmbedCacheSize, cfg.EmbedCacheTTL, app.Pipeline)
	}

	app.Ingestor = usecase.NewCoordinator(
		usecase.NewClassifier(),
		usecase.NewSafeExtractor(textExtractor, cfg.ExtractTimeout, logger),
		usecase.NewAssembler(renderer),
		artifacts,
		usecase.NewPersister(repo, embedder, logger),
		usecase.WithCoordinatorConfig(usecase.CoordinatorConfig{
			MaxConcurrentUnits: cfg.MaxConcurrentUnits,
			MaxInFlight:        cfg.MaxInFlight,
			PersistTimeout:     cfg.PersistTimeout,
		}),
		usecase.WithEventPublisher(events),
		usecase.WithPipelineObserver(app.Pipeline),
		usecase.WithCoordinatorLogger(logger),
	)
	app.Reconciler = usecase.NewReconciler(artifacts, repo, cfg.ReconcileWorkers, app.Reconcile, logger,
		usecase.WithMinGracePeriod(cfg.PersistTimeout),
	)

	return app, nil
}

func newArtifactStore(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ArtifactStore, error) {
	switch cfg.ArtifactBackend {
	case config.ArtifactBackendGCS:
		return gcs.New(ctx, cfg.GCSBucket, cfg.GCSPrefix, executor)
	case config.ArtifactBackendLocalFS, "":
		return localfs.New(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}

func newImageExtractor(cfg config.Config, client *ollama.Client, logger *slog.Logger) (ports.TextExtractor, error) {
	switch cfg.OCRBackend {
	case config.OCRBackendOllama, "":
		return ollama.NewRecognizer(client), nil
	case config.OCRBackendTesseract:
		return tesseract.New(tesseract.Config{
			Binary: cfg.TesseractBin,
			Lang:   cfg.TesseractLang,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown OCR backend %q", cfg.OCRBackend)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
