package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// PipelineObserver receives per-unit and per-extraction measurements.
type PipelineObserver interface {
	StartUnit(kind string)
	FinishUnit(kind, state, errorKind string, duration time.Duration)
	ObserveExtraction(kind string, ok bool, duration time.Duration)
	ObserveBatch(total, succeeded, failed, rejected int)
}

type CoordinatorConfig struct {
	MaxConcurrentUnits int
	MaxInFlight        int
	PersistTimeout     time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	n := runtime.NumCPU()
	return CoordinatorConfig{
		MaxConcurrentUnits: n,
		MaxInFlight:        2 * n,
		PersistTimeout:     30 * time.Second,
	}
}

func (c CoordinatorConfig) normalize() CoordinatorConfig {
	out := c
	def := DefaultCoordinatorConfig()
	if out.MaxConcurrentUnits <= 0 {
		out.MaxConcurrentUnits = def.MaxConcurrentUnits
	}
	if out.MaxInFlight <= 0 {
		out.MaxInFlight = def.MaxInFlight
	}
	if out.PersistTimeout <= 0 {
		out.PersistTimeout = def.PersistTimeout
	}
	return out
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorConfig(cfg CoordinatorConfig) CoordinatorOption {
	return func(c *Coordinator) {
		c.cfg = cfg.normalize()
	}
}

func WithEventPublisher(events ports.EventPublisher) CoordinatorOption {
	return func(c *Coordinator) {
		c.events = events
	}
}

func WithPipelineObserver(observer PipelineObserver) CoordinatorOption {
	return func(c *Coordinator) {
		if observer != nil {
			c.observer = observer
		}
	}
}

func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator runs a batch: classification, then every logical document unit
// concurrently through extraction, assembly, upload and persistence.
type Coordinator struct {
	classifier *Classifier
	extractor  *SafeExtractor
	assembler  *Assembler
	artifacts  ports.ArtifactStore
	persister  *Persister
	events     ports.EventPublisher
	observer   PipelineObserver
	cfg        CoordinatorConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewCoordinator(
	classifier *Classifier,
	extractor *SafeExtractor,
	assembler *Assembler,
	artifacts ports.ArtifactStore,
	persister *Persister,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		classifier: classifier,
		extractor:  extractor,
		assembler:  assembler,
		artifacts:  artifacts,
		persister:  persister,
		observer:   noopObserver{},
		cfg:        DefaultCoordinatorConfig(),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type batchRun struct {
	req     domain.BatchRequest
	title   string
	sem     *semaphore.Weighted
	tracker *batchTracker
	logger  *slog.Logger
}

// Ingest never fails because of a single unit. The only error it returns is
// ErrNoValidInput (with a report holding the rejected inputs) or an invalid
// request; every per-unit failure is recorded on the report.
func (c *Coordinator) Ingest(ctx context.Context, req domain.BatchRequest, progress domain.ProgressFunc) (*domain.BatchReport, error) {
	report := &domain.BatchReport{
		BatchID:     uuid.NewString(),
		Destination: req.Destination,
		RequestedBy: req.RequestedBy,
		Units:       []domain.UnitReport{},
		Rejected:    []domain.RejectedInput{},
		StartedAt:   c.now(),
	}
	logger := c.logger.With("batch_id", report.BatchID, "destination", req.Destination)

	if strings.TrimSpace(req.Destination) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest batch", errors.New("destination is required"))
	}

	partition, err := c.classifier.Classify(req.Inputs)
	if len(partition.Rejected) > 0 {
		report.Rejected = partition.Rejected
	}
	if err != nil {
		report.FinishedAt = c.now()
		c.observer.ObserveBatch(0, 0, 0, len(report.Rejected))
		logger.Warn("batch_no_valid_input", "inputs", len(req.Inputs), "rejected", len(report.Rejected))
		return report, err
	}

	units := BuildUnits(partition)
	run := &batchRun{
		req:     req,
		sem:     semaphore.NewWeighted(int64(c.cfg.MaxInFlight)),
		tracker: newBatchTracker(report.BatchID, units, progress),
		logger:  logger,
	}
	if len(units) == 1 {
		run.title = strings.TrimSpace(req.ExplicitTitle)
	}

	logger.Info("batch_started",
		"inputs", len(req.Inputs),
		"pdf_units", len(partition.PDFs),
		"images", len(partition.Images),
		"rejected", len(partition.Rejected),
	)

	run.tracker.start()
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.MaxConcurrentUnits)
	for _, unit := range units {
		g.Go(func() error {
			c.runUnit(ctx, run, unit)
			return nil
		})
	}
	_ = g.Wait()

	report.Units, report.Succeeded, report.Failed = run.tracker.close()
	report.Total = len(units)
	report.FinishedAt = c.now()

	c.observer.ObserveBatch(report.Total, report.Succeeded, report.Failed, len(report.Rejected))
	logger.Info("batch_finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"rejected", len(report.Rejected),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// BuildUnits turns a partition into units: one per PDF, then one group holding
// every image of the batch.
func BuildUnits(p domain.Partition) []domain.LogicalDocumentUnit {
	units := make([]domain.LogicalDocumentUnit, 0, len(p.PDFs)+1)
	for _, item := range p.PDFs {
		units = append(units, domain.LogicalDocumentUnit{
			ID:    len(units) + 1,
			Kind:  domain.UnitPDF,
			Items: []domain.ClassifiedItem{item},
		})
	}
	if len(p.Images) > 0 {
		units = append(units, domain.LogicalDocumentUnit{
			ID:    len(units) + 1,
			Kind:  domain.UnitImageGroup,
			Items: p.Images,
		})
	}
	return units
}

// artifactPlan is what the upload and persist stages need from the earlier stages.
type artifactPlan struct {
	bytes     []byte
	name      string
	title     string
	mimeType  string
	text      string
	pageCount int
	multiPage bool
}

func (c *Coordinator) runUnit(ctx context.Context, run *batchRun, unit domain.LogicalDocumentUnit) {
	start := time.Now()
	kind := string(unit.Kind)
	logger := run.logger.With("unit", unit.ID, "kind", kind)
	c.observer.StartUnit(kind)

	report := domain.UnitReport{
		UnitID:        unit.ID,
		Kind:          unit.Kind,
		SourceIndices: unit.SourceIndices(),
		SourceNames:   unit.SourceNames(),
	}
	fail := func(err error) {
		report.State = domain.UnitFailed
		report.ErrorKind = domain.ErrorKind(err)
		report.Error = err.Error()
		report.Duration = time.Since(start)
		logger.Error("unit_failed", "error_kind", report.ErrorKind, "orphaned", report.Orphaned, "error", err)
		c.observer.FinishUnit(kind, string(report.State), report.ErrorKind, report.Duration)
		run.tracker.finish(report)
	}

	run.tracker.transition(unit.ID, domain.UnitClassifying)
	if err := stageGate(ctx, "classify"); err != nil {
		fail(err)
		return
	}

	run.tracker.transition(unit.ID, domain.UnitExtracting)
	var plan artifactPlan
	switch unit.Kind {
	case domain.UnitPDF:
		plan = c.preparePDF(ctx, run, unit.Items[0], &report)
	case domain.UnitImageGroup:
		pages := c.extractGroup(ctx, run, unit.Items, &report)
		if err := stageGate(ctx, "assemble"); err != nil {
			fail(err)
			return
		}
		run.tracker.transition(unit.ID, domain.UnitAssembling)
		artifact, err := c.assembler.Assemble(ctx, pages, run.title)
		if err != nil {
			fail(err)
			return
		}
		plan = artifactPlan{
			bytes:     artifact.Bytes,
			name:      artifact.SuggestedTitle + ".pdf",
			title:     artifact.SuggestedTitle,
			mimeType:  artifact.MimeType,
			text:      artifact.Transcript,
			pageCount: artifact.PageCount,
			multiPage: artifact.PageCount > 1,
		}
	default:
		fail(fmt.Errorf("unknown unit kind %q", unit.Kind))
		return
	}

	if err := stageGate(ctx, "upload"); err != nil {
		fail(err)
		return
	}
	run.tracker.transition(unit.ID, domain.UnitUploading)
	key, err := c.upload(ctx, run, plan)
	if err != nil {
		fail(err)
		return
	}
	report.StorageKey = key
	logger.Debug("artifact_uploaded", "storage_key", key, "bytes", len(plan.bytes))

	// The artifact exists now; persistence must not be abandoned on caller
	// cancellation or the upload becomes an orphan.
	run.tracker.transition(unit.ID, domain.UnitPersisting)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
	defer cancel()

	result, err := c.persister.Persist(persistCtx, PersistRequest{
		StorageKey:  key,
		Title:       plan.title,
		MimeType:    plan.mimeType,
		OCRText:     plan.text,
		Destination: run.req.Destination,
		RequestedBy: run.req.RequestedBy,
		Classified:  run.req.Classified,
		PageCount:   plan.pageCount,
		MultiPage:   plan.multiPage,
		SourceNames: report.SourceNames,
	})
	report.Warnings = append(report.Warnings, result.Warnings...)
	if err != nil {
		report.Orphaned = domain.IsKind(err, domain.ErrOrphanedArtifact)
		fail(err)
		return
	}

	report.Document = result.Document
	c.publishCreated(persistCtx, run, result.Document, &report, logger)

	report.State = domain.UnitPersisted
	report.Duration = time.Since(start)
	logger.Info("unit_persisted",
		"document_id", result.Document.ID,
		"storage_key", key,
		"warnings", len(report.Warnings),
		"duration_ms", report.Duration.Milliseconds(),
	)
	c.observer.FinishUnit(kind, string(report.State), "", report.Duration)
	run.tracker.finish(report)
}

func (c *Coordinator) preparePDF(ctx context.Context, run *batchRun, item domain.ClassifiedItem, report *domain.UnitReport) artifactPlan {
	outcome := c.extractOne(ctx, run, item)
	if !outcome.OK() {
		report.Warnings = append(report.Warnings, pageWarning(item, outcome.Err))
	}

	title := run.title
	if title == "" {
		title = item.BaseTitle()
	}
	return artifactPlan{
		bytes:    item.Input.Body,
		name:     item.BaseTitle() + "." + item.Ext,
		title:    title,
		mimeType: domain.MimePDF,
		text:     outcome.Text,
	}
}

// extractGroup recognizes every page concurrently. Results are stored by slot,
// and the assembler re-sorts by original index anyway.
func (c *Coordinator) extractGroup(ctx context.Context, run *batchRun, items []domain.ClassifiedItem, report *domain.UnitReport) []domain.ExtractedPage {
	pages := make([]domain.ExtractedPage, len(items))
	g := new(errgroup.Group)
	for i, item := range items {
		g.Go(func() error {
			pages[i] = domain.ExtractedPage{
				Item:    item,
				Outcome: c.extractOne(ctx, run, item),
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, page := range pages {
		if !page.Outcome.OK() {
			report.Warnings = append(report.Warnings, pageWarning(page.Item, page.Outcome.Err))
		}
	}
	return pages
}

func (c *Coordinator) extractOne(ctx context.Context, run *batchRun, item domain.ClassifiedItem) domain.ExtractionOutcome {
	if err := run.sem.Acquire(ctx, 1); err != nil {
		return domain.ExtractionOutcome{
			OriginalIndex: item.OriginalIndex,
			Err:           domain.WrapError(domain.ErrExtractionFailed, "wait for extraction slot", err),
		}
	}
	defer run.sem.Release(1)

	outcome := c.extractor.Extract(ctx, item)
	c.observer.ObserveExtraction(string(item.Kind), outcome.OK(), outcome.Duration)
	return outcome
}

func (c *Coordinator) upload(ctx context.Context, run *batchRun, plan artifactPlan) (string, error) {
	if err := run.sem.Acquire(ctx, 1); err != nil {
		return "", domain.WrapError(domain.ErrCancelled, "wait for upload slot", err)
	}
	defer run.sem.Release(1)

	key, err := c.artifacts.Put(ctx, plan.bytes, plan.name)
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.WrapError(domain.ErrCancelled, "upload artifact", err)
		}
		return "", domain.WrapError(domain.ErrStoreFailed, "upload artifact", err)
	}
	return key, nil
}

func (c *Coordinator) publishCreated(ctx context.Context, run *batchRun, doc *domain.PersistedDocument, report *domain.UnitReport, logger *slog.Logger) {
	if c.events == nil {
		return
	}
	err := c.events.PublishDocumentCreated(ctx, domain.DocumentCreatedEvent{
		DocumentID:  doc.ID,
		Title:       doc.Title,
		Destination: run.req.Destination,
		MultiPage:   doc.MultiPage,
		CreatedAt:   doc.CreatedAt,
	})
	if err != nil {
		logger.Warn("publish_document_created_failed", "document_id", doc.ID, "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("publish document created: %v", err))
	}
}

func stageGate(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrCancelled, stage, err)
	}
	return nil
}

func pageWarning(item domain.ClassifiedItem, err error) string {
	return fmt.Sprintf("page %d (%s): %v", item.OriginalIndex, item.Input.OriginalName, err)
}

type noopObserver struct{}

func (noopObserver) StartUnit(string) {}
func (noopObserver) FinishUnit(string, string, string, time.Duration) {}
func (noopObserver) ObserveExtraction(string, bool, time.Duration) {}
func (noopObserver) ObserveBatch(int, int, int, int) {}
