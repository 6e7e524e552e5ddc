package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

const (
	multipartMemory   = 32 << 20
	backpressureWait  = 250 * time.Millisecond
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	formFieldFiles    = "files"
	formFieldFileOnly = "file"
)

type Router struct {
	cfg        config.Config
	ingestor   ports.BatchIngestor
	documents  ports.DocumentReader
	reconciler ports.ArtifactReconciler

	httpMetrics    *metrics.HTTPServerMetrics
	metricsHandler http.Handler
	logger         *slog.Logger
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics, handler http.Handler) RouterOption {
	return func(rt *Router) {
		rt.httpMetrics = m
		rt.metricsHandler = handler
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	ingestor ports.BatchIngestor,
	documents ports.DocumentReader,
	reconciler ports.ArtifactReconciler,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:        cfg,
		ingestor:   ingestor,
		documents:  documents,
		reconciler: reconciler,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware(rt.logger))

	r.Get("/healthz", rt.healthz)
	if rt.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", rt.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(rt.trafficControl)
		r.Post("/batches", rt.ingestBatch)
		r.Get("/documents/{id}", rt.getDocumentByID)
		r.Post("/maintenance/reconcile", rt.reconcile)
	})

	var handler http.Handler = r
	if rt.httpMetrics != nil {
		handler = rt.httpMetrics.Middleware("api", handler)
	}
	return handler
}

func (rt *Router) trafficControl(next http.Handler) http.Handler {
	var onShed func(string)
	if rt.httpMetrics != nil {
		onShed = rt.httpMetrics.RecordShed
	}
	gated := backpressureMiddleware(next, rt.cfg.APIMaxInFlight, backpressureWait, onShed)
	return rateLimitMiddleware(gated, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onShed)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) ingestBatch(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		if r.ContentLength > rt.cfg.MaxUploadBytes {
			rt.writeError(w, r, http.StatusRequestEntityTooLarge, badRequest(fmt.Errorf("upload exceeds %d bytes", rt.cfg.MaxUploadBytes)))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.writeError(w, r, http.StatusRequestEntityTooLarge, badRequest(fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		rt.writeError(w, r, http.StatusBadRequest, badRequest(fmt.Errorf("multipart form is required: %w", err)))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[formFieldFiles]
	if len(headers) == 0 {
		headers = r.MultipartForm.File[formFieldFileOnly]
	}
	if len(headers) == 0 {
		rt.writeError(w, r, http.StatusBadRequest, badRequest(errors.New("multipart field 'files' is required")))
		return
	}

	inputs, err := readInputs(headers)
	if err != nil {
		rt.writeError(w, r, http.StatusBadRequest, badRequest(err))
		return
	}

	classified, _ := strconv.ParseBool(r.FormValue("classified"))
	req := domain.BatchRequest{
		Destination:   strings.TrimSpace(r.FormValue("destination")),
		RequestedBy:   strings.TrimSpace(r.FormValue("requested_by")),
		ExplicitTitle: strings.TrimSpace(r.FormValue("title")),
		Classified:    classified,
		Inputs:        inputs,
	}
	requestID := requestIDFromContext(r.Context())
	progress := func(p domain.Progress) {
		rt.logger.Debug("batch_progress",
			"request_id", requestID,
			"batch_id", p.BatchID,
			"completed", p.Completed,
			"total", p.Total,
			"percent", p.Percent,
		)
	}

	report, err := rt.ingestor.Ingest(r.Context(), req, progress)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if report != nil && domain.IsKind(err, domain.ErrNoValidInput) {
			writeJSON(w, status, batchErrorResponse{
				errorResponse: rt.errorBody(r, err),
				Report:        report,
			})
			return
		}
		rt.writeError(w, r, status, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		data, err := xlsx.RenderBatchReport(*report)
		if err != nil {
			rt.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch-"+report.BatchID+".xlsx"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func readInputs(headers []*multipart.FileHeader) ([]domain.RawInput, error) {
	inputs := make([]domain.RawInput, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", header.Filename, err)
		}
		body, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", header.Filename, err)
		}
		inputs = append(inputs, domain.RawInput{
			OriginalName: header.Filename,
			MimeHint:     header.Header.Get("Content-Type"),
			Body:         body,
		})
	}
	return inputs, nil
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		rt.writeError(w, r, http.StatusBadRequest, badRequest(errors.New("document id is required")))
		return
	}

	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, mapErrorToHTTPStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) reconcile(w http.ResponseWriter, r *http.Request) {
	opts := domain.SweepOptions{GracePeriod: rt.cfg.ReconcileGrace}
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			rt.writeError(w, r, http.StatusBadRequest, badRequest(fmt.Errorf("invalid dry_run: %w", err)))
			return
		}
		opts.DryRun = dryRun
	}
	if raw := r.URL.Query().Get("grace"); raw != "" {
		grace, err := time.ParseDuration(raw)
		if err != nil || grace <= 0 {
			rt.writeError(w, r, http.StatusBadRequest, badRequest(fmt.Errorf("invalid grace duration %q", raw)))
			return
		}
		opts.GracePeriod = grace
	}

	report, err := rt.reconciler.Sweep(r.Context(), opts)
	if err != nil {
		rt.writeError(w, r, mapErrorToHTTPStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type batchErrorResponse struct {
	errorResponse
	Report *domain.BatchReport `json:"report"`
}

func (rt *Router) errorBody(r *http.Request, err error) errorResponse {
	return errorResponse{
		Error:     err.Error(),
		Kind:      domain.ErrorKind(err),
		RequestID: requestIDFromContext(r.Context()),
	}
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	}
	writeJSON(w, status, rt.errorBody(r, err))
}

func badRequest(err error) error {
	return domain.WrapError(domain.ErrInvalidInput, "http request", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
