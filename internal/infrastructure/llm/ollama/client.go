package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	ocrModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

type Option func(*Client)

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

// WithRateLimit caps requests per second sent to the model server; rps <= 0
// disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(baseURL, ocrModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		ocrModel:   ocrModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		c.executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return c
}

// Recognizer runs OCR on one image through a vision model.
type Recognizer struct {
	client *Client
}

func NewRecognizer(client *Client) *Recognizer {
	return &Recognizer{client: client}
}

func (r *Recognizer) Extract(ctx context.Context, item domain.ClassifiedItem) (string, error) {
	if item.Kind != domain.KindImage {
		return "", fmt.Errorf("ollama ocr: unsupported kind %q", item.Kind)
	}
	if len(item.Input.Body) == 0 {
		return "", errors.New("ollama ocr: empty image")
	}

	request := map[string]any{
		"model":  r.client.ocrModel,
		"prompt": ocrPrompt,
		"images": []string{base64.StdEncoding.EncodeToString(item.Input.Body)},
		"stream": false,
		"options": map[string]any{
			"temperature": 0,
		},
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := r.client.postJSON(ctx, "/api/generate", request, &response, "ocr"); err != nil {
		return "", err
	}
	return cleanTranscript(response.Response), nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("ollama embed: empty text")
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{truncateRunes(text, maxEmbedRunes)},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}
