package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// DefaultMinGracePeriod is the smallest grace period a sweep accepts unless
// the reconciler is configured with a larger one.
const DefaultMinGracePeriod = time.Minute

type ReconcileObserver interface {
	ObserveSweep(scanned, orphans, deleted, failed int, duration time.Duration)
}

// Reconciler finds artifacts that have no metadata record, which is what a
// failed persist leaves behind, and removes them.
type Reconciler struct {
	artifacts ports.ArtifactStore
	metadata  ports.MetadataStore
	workers   int
	observer  ReconcileObserver
	logger    *slog.Logger
	now       func() time.Time
	minGrace  time.Duration
}

type ReconcilerOption func(*Reconciler)

// WithMinGracePeriod raises the smallest accepted grace period. It must cover
// the window between an upload finishing and its metadata insert, which is
// bounded by the persist timeout.
func WithMinGracePeriod(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > r.minGrace {
			r.minGrace = d
		}
	}
}

func NewReconciler(artifacts ports.ArtifactStore, metadata ports.MetadataStore, workers int, observer ReconcileObserver, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		artifacts: artifacts,
		metadata:  metadata,
		workers:   workers,
		observer:  observer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		minGrace:  DefaultMinGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MinGracePeriod is the smallest grace period Sweep accepts.
func (r *Reconciler) MinGracePeriod() time.Duration {
	return r.minGrace
}

func (r *Reconciler) Sweep(ctx context.Context, opts domain.SweepOptions) (*domain.SweepReport, error) {
	if opts.GracePeriod < r.minGrace {
		return nil, domain.WrapError(domain.ErrInvalidInput, "sweep artifacts",
			fmt.Errorf("grace period %s is below the minimum %s", opts.GracePeriod, r.minGrace))
	}
	start := time.Now()

	// Artifacts are listed before the referenced keys are read: a document
	// persisted between the two reads is then seen as referenced.
	artifacts, err := r.artifacts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	referenced, err := r.metadata.ListStorageKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list referenced storage keys: %w", err)
	}
	known := make(map[string]struct{}, len(referenced))
	for _, key := range referenced {
		known[key] = struct{}{}
	}

	report := &domain.SweepReport{
		Scanned:    len(artifacts),
		Referenced: len(referenced),
		Orphans:    []string{},
		Deleted:    []string{},
		DryRun:     opts.DryRun,
	}

	cutoff := r.now().Add(-opts.GracePeriod)
	for _, info := range artifacts {
		if _, ok := known[info.Key]; ok {
			continue
		}
		// Recent artifacts may belong to a unit that is still persisting.
		if info.ModifiedAt.After(cutoff) {
			continue
		}
		report.Orphans = append(report.Orphans, info.Key)
	}

	if !opts.DryRun && len(report.Orphans) > 0 {
		if err := r.deleteAll(ctx, report); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	if r.observer != nil {
		r.observer.ObserveSweep(report.Scanned, len(report.Orphans), len(report.Deleted), len(report.Errors), report.Duration)
	}
	r.logger.Info("reconcile_sweep_finished",
		"scanned", report.Scanned,
		"referenced", report.Referenced,
		"orphans", len(report.Orphans),
		"deleted", len(report.Deleted),
		"errors", len(report.Errors),
		"dry_run", report.DryRun,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (r *Reconciler) deleteAll(ctx context.Context, report *domain.SweepReport) error {
	pool, err := ants.NewPool(r.workers)
	if err != nil {
		return fmt.Errorf("create delete pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, key := range report.Orphans {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			derr := r.artifacts.Delete(ctx, key)

			mu.Lock()
			defer mu.Unlock()
			if derr != nil {
				report.Errors = append(report.Errors, key+": "+derr.Error())
				r.logger.Warn("orphan_delete_failed", "storage_key", key, "error", derr)
				return
			}
			report.Deleted = append(report.Deleted, key)
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			report.Errors = append(report.Errors, key+": "+err.Error())
			mu.Unlock()
		}
	}
	wg.Wait()
	slices.Sort(report.Deleted)
	slices.Sort(report.Errors)
	return nil
}
