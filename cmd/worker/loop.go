package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// runReconcileLoop sweeps once immediately and then every interval until ctx
// is done. A sweep in progress when ctx ends is cancelled with it.
func runReconcileLoop(ctx context.Context, reconciler ports.ArtifactReconciler, interval, grace time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweepOnce(ctx, reconciler, grace, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweepOnce(ctx context.Context, reconciler ports.ArtifactReconciler, grace time.Duration, logger *slog.Logger) {
	report, err := reconciler.Sweep(ctx, domain.SweepOptions{GracePeriod: grace})
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("reconcile_sweep_failed", "error", err)
		}
		return
	}
	logger.Info("reconcile_sweep_done",
		"scanned", report.Scanned,
		"orphans", len(report.Orphans),
		"deleted", len(report.Deleted),
		"errors", len(report.Errors),
	)
}
