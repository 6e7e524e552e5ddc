package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kirillkom/docflow/internal/bootstrap"
	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/docflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docflow/internal/observability/logging"
)

const exitPartialFailure = 2

func loadConfig(c *cli.Context) (config.Config, *slog.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	return cfg, logging.New(os.Stderr, "docingest", level, "text"), nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one FILE is required", 1)
	}
	inputs, err := readInputFiles(c.Args().Slice())
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "docingest", logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	req := domain.BatchRequest{
		Destination:   c.String("destination"),
		RequestedBy:   c.String("requested-by"),
		ExplicitTitle: c.String("title"),
		Classified:    c.Bool("classified"),
		Inputs:        inputs,
	}
	report, ingestErr := app.Ingestor.Ingest(ctx, req, func(p domain.Progress) {
		logger.Info("batch_progress", "batch_id", p.BatchID, "completed", p.Completed, "total", p.Total, "percent", p.Percent)
	})
	if report != nil {
		if path := c.String("report-xlsx"); path != "" {
			if err := writeXLSXReport(path, report); err != nil {
				return err
			}
			logger.Info("report_written", "path", path)
		}
		if err := printReport(c.App.Writer, report, c.Bool("json")); err != nil {
			return err
		}
	}
	if ingestErr != nil {
		return cli.Exit(ingestErr.Error(), 1)
	}
	if report.Failed > 0 {
		return cli.Exit(fmt.Sprintf("batch %s: %s", report.BatchID, report.Summary()), exitPartialFailure)
	}
	return nil
}

func reconcileCommand(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "docingest", logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	opts := domain.SweepOptions{DryRun: c.Bool("dry-run"), GracePeriod: cfg.ReconcileGrace}
	if c.IsSet("grace") {
		opts.GracePeriod = c.Duration("grace")
	}
	if minGrace := app.Reconciler.MinGracePeriod(); opts.GracePeriod < minGrace {
		return cli.Exit(fmt.Sprintf("--grace must be at least %s", minGrace), 1)
	}
	report, err := app.Reconciler.Sweep(ctx, opts)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return writeJSON(c.App.Writer, report)
}

func watchCommand(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c)
	defer stop()

	publisher, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer publisher.Close()

	logger.Info("watching_events", "subject", cfg.NATSSubject)
	return publisher.Subscribe(ctx, func(_ context.Context, event domain.DocumentCreatedEvent) error {
		return writeJSON(c.App.Writer, event)
	})
}

// readInputFiles keeps the argument order, which becomes the batch input order.
func readInputFiles(paths []string) ([]domain.RawInput, error) {
	inputs := make([]domain.RawInput, 0, len(paths))
	for _, path := range paths {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		inputs = append(inputs, domain.RawInput{
			OriginalName: filepath.Base(path),
			MimeHint:     mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
			Body:         body,
		})
	}
	return inputs, nil
}

func writeXLSXReport(path string, report *domain.BatchReport) error {
	data, err := xlsx.RenderBatchReport(*report)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printReport(w io.Writer, report *domain.BatchReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, report)
	}
	if _, err := fmt.Fprintf(w, "batch %s: %s\n", report.BatchID, report.Summary()); err != nil {
		return err
	}
	for _, unit := range report.Units {
		line := fmt.Sprintf("  unit %d [%s] %s %s", unit.UnitID, unit.Kind, unit.State, strings.Join(unit.SourceNames, ", "))
		switch {
		case unit.Document != nil:
			line += " -> " + unit.Document.ID
		case unit.ErrorKind != "":
			line += " (" + unit.ErrorKind + ": " + unit.Error + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	for _, rejected := range report.Rejected {
		if _, err := fmt.Fprintf(w, "  rejected #%d %s: %s\n", rejected.OriginalIndex, rejected.OriginalName, rejected.Reason); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Join(errors.New("encode output"), err)
	}
	return nil
}
