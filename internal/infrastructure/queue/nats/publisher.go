package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const (
	EventTypeDocumentCreated = "com.docflow.document.created"
	eventSource              = "/docflow/ingest"
)

type Publisher struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docflow"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) PublishDocumentCreated(ctx context.Context, event domain.DocumentCreatedEvent) error {
	payload, err := encodeDocumentCreated(event, p.now())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe delivers decoded document.created events until ctx is done, then
// drains the subscription.
func (p *Publisher) Subscribe(ctx context.Context, handler func(context.Context, domain.DocumentCreatedEvent) error) error {
	sub, err := p.conn.Subscribe(p.subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := decodeDocumentCreated(msg.Data)
		if err != nil {
			p.logger.Warn("event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			p.logger.Error("event_handler_failed", "document_id", event.DocumentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

func encodeDocumentCreated(event domain.DocumentCreatedEvent, now time.Time) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(eventSource)
	ce.SetType(EventTypeDocumentCreated)
	ce.SetSubject(event.DocumentID)
	ce.SetTime(now.UTC())
	if err := ce.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

func decodeDocumentCreated(data []byte) (domain.DocumentCreatedEvent, error) {
	ce := cloudevents.NewEvent()
	if err := json.Unmarshal(data, &ce); err != nil {
		return domain.DocumentCreatedEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ce.Type() != EventTypeDocumentCreated {
		return domain.DocumentCreatedEvent{}, fmt.Errorf("unexpected event type %q", ce.Type())
	}
	var out domain.DocumentCreatedEvent
	if err := ce.DataAs(&out); err != nil {
		return domain.DocumentCreatedEvent{}, fmt.Errorf("decode event data: %w", err)
	}
	return out, nil
}

// Discard is used when event publishing is disabled.
type Discard struct{}

func (Discard) PublishDocumentCreated(context.Context, domain.DocumentCreatedEvent) error {
	return nil
}
