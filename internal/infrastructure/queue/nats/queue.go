package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
)

const workerQueueGroup = "ingestion-workers"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Queue carries reindex requests to workers and announces finished runs.
type Queue struct {
	conn           *nats.Conn
	pub            publisher
	reindexSubject string
	eventsSubject  string
	executor       *resilience.Executor
}

type Options struct {
	Name                 string
	EventsSubject        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

// IngestionFinishedEvent is the payload published on the events subject.
type IngestionFinishedEvent struct {
	RunID      string    `json:"run_id"`
	Root       string    `json:"root"`
	Trigger    string    `json:"trigger,omitempty"`
	Status     string    `json:"status"`
	Resources  int       `json:"resources"`
	Skipped    int       `json:"skipped"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
	Batches    int       `json:"batches"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func New(url, reindexSubject string, options Options) (*Queue, error) {
	if strings.TrimSpace(reindexSubject) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "nats queue", fmt.Errorf("reindex subject is required"))
	}
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
	name := options.Name
	if name == "" {
		name = "proposal-rag"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		pub:            conn,
		reindexSubject: reindexSubject,
		eventsSubject:  options.EventsSubject,
		executor:       options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishReindexRequest(ctx context.Context, req domain.IngestRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal reindex request: %w", err)
	}
	return q.publish(ctx, "nats.publish_reindex", q.reindexSubject, payload)
}

// PublishIngestionFinished is a no-op when no events subject is configured.
func (q *Queue) PublishIngestionFinished(ctx context.Context, run domain.IngestionRun) error {
	if q.eventsSubject == "" {
		return nil
	}
	event := IngestionFinishedEvent{
		RunID:     run.ID,
		Root:      run.Root,
		Trigger:   run.Trigger,
		Status:    string(run.Status),
		Resources: run.Resources,
		Skipped:   len(run.Skipped),
		Documents: run.Documents,
		Chunks:    run.Chunks,
		Batches:   run.Batches,
		Error:     run.Error,
	}
	if run.FinishedAt != nil {
		event.FinishedAt = *run.FinishedAt
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ingestion event: %w", err)
	}
	return q.publish(ctx, "nats.publish_event", q.eventsSubject, payload)
}

func (q *Queue) publish(ctx context.Context, operation, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.pub.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeReindexRequests blocks until ctx is done, then drains the
// subscription so an in-flight run can finish.
func (q *Queue) SubscribeReindexRequests(ctx context.Context, handler func(context.Context, domain.IngestRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.reindexSubject, workerQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		handleReindexMessage(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	slog.Info("reindex_subscription_started", "subject", q.reindexSubject, "queue_group", workerQueueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleReindexMessage(ctx context.Context, data []byte, handler func(context.Context, domain.IngestRequest) error) {
	req, err := decodeReindexRequest(data)
	if err != nil {
		slog.Warn("reindex_request_rejected", "error", err)
		return
	}
	if req.Trigger == "" {
		req.Trigger = "nats"
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, req); err != nil {
		slog.Error("reindex_request_failed", "root", req.Root, "error", err)
	}
}

// decodeReindexRequest accepts a JSON request or, for convenience with
// `nats pub`, a bare root path.
func decodeReindexRequest(data []byte) (domain.IngestRequest, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return domain.IngestRequest{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return domain.IngestRequest{Root: trimmed}, nil
	}
	var req domain.IngestRequest
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return domain.IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode reindex request", err)
	}
	return req, nil
}
