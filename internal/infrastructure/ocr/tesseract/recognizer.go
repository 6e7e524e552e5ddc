package tesseract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type Config struct {
	Binary      string
	Lang        string
	PSM         int
	TessdataDir string
	TempDir     string
}

// Recognizer runs the tesseract CLI on one image.
type Recognizer struct {
	cfg    Config
	runner Runner
}

func New(cfg Config, logger *slog.Logger) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithRunner(cfg, execRunner{logger: logger})
}

func NewWithRunner(cfg Config, runner Runner) *Recognizer {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Recognizer{cfg: cfg, runner: runner}
}

var reBoxNoise = regexp.MustCompile(`[|_]{3,}`)

func (r *Recognizer) Extract(ctx context.Context, item domain.ClassifiedItem) (string, error) {
	if item.Kind != domain.KindImage {
		return "", fmt.Errorf("tesseract: unsupported kind %q", item.Kind)
	}
	if len(item.Input.Body) == 0 {
		return "", errors.New("tesseract: empty image")
	}

	path, cleanup, err := r.spool(item)
	if err != nil {
		return "", err
	}
	defer cleanup()

	out, errb, err := r.runner.Run(ctx, r.cfg.Binary, r.args(path)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}

func (r *Recognizer) args(path string) []string {
	args := []string{path, "stdout", "-l", r.cfg.Lang}
	if r.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(r.cfg.PSM))
	}
	if r.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", r.cfg.TessdataDir)
	}
	return args
}

// spool writes the image to a private temp file since the CLI reads from a path.
func (r *Recognizer) spool(item domain.ClassifiedItem) (string, func(), error) {
	ext := item.Ext
	if ext == "" {
		ext = "img"
	}
	f, err := os.CreateTemp(r.cfg.TempDir, "ocr-*."+ext)
	if err != nil {
		return "", nil, fmt.Errorf("create ocr temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.Write(item.Input.Body); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write ocr temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close ocr temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}
