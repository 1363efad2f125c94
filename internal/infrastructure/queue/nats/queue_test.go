package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
)

type publishCall struct {
	subject string
	data    []byte
}

type publisherFake struct {
	calls []publishCall
	errs  []error
}

func (p *publisherFake) Publish(subject string, data []byte) error {
	p.calls = append(p.calls, publishCall{subject: subject, data: append([]byte(nil), data...)})
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func TestPublishReindexRequestEncodesJSON(t *testing.T) {
	pub := &publisherFake{}
	q := &Queue{pub: pub, reindexSubject: "rag.reindex"}

	recursive := false
	err := q.PublishReindexRequest(context.Background(), domain.IngestRequest{Root: "/corpus", Recursive: &recursive, BatchSize: 10})
	if err != nil {
		t.Fatalf("PublishReindexRequest() error = %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0].subject != "rag.reindex" {
		t.Fatalf("unexpected publish calls %+v", pub.calls)
	}
	var got domain.IngestRequest
	if err := json.Unmarshal(pub.calls[0].data, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Root != "/corpus" || got.Recursive == nil || *got.Recursive || got.BatchSize != 10 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPublishIngestionFinishedSkipsWithoutSubject(t *testing.T) {
	pub := &publisherFake{}
	q := &Queue{pub: pub, reindexSubject: "rag.reindex"}

	if err := q.PublishIngestionFinished(context.Background(), domain.IngestionRun{ID: "r1"}); err != nil {
		t.Fatalf("PublishIngestionFinished() error = %v", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("expected no publish, got %+v", pub.calls)
	}
}

func TestPublishIngestionFinishedEvent(t *testing.T) {
	pub := &publisherFake{}
	q := &Queue{pub: pub, reindexSubject: "rag.reindex", eventsSubject: "rag.ingestion.finished"}

	finished := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	run := domain.IngestionRun{
		ID: "r1", Root: "/corpus", Status: domain.RunStatusCompleted, Chunks: 5, Batches: 1,
		Skipped: []domain.SkippedResource{{Location: "a", Reason: "b"}}, FinishedAt: &finished,
	}
	if err := q.PublishIngestionFinished(context.Background(), run); err != nil {
		t.Fatalf("PublishIngestionFinished() error = %v", err)
	}
	var event IngestionFinishedEvent
	if err := json.Unmarshal(pub.calls[0].data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.RunID != "r1" || event.Status != "completed" || event.Skipped != 1 || !event.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPublishRetriesTransientErrorsThroughExecutor(t *testing.T) {
	pub := &publisherFake{errs: []error{nats.ErrTimeout}}
	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	q := &Queue{pub: pub, reindexSubject: "s", executor: resilience.NewExecutor(cfg)}

	if err := q.PublishReindexRequest(context.Background(), domain.IngestRequest{Root: "/r"}); err != nil {
		t.Fatalf("PublishReindexRequest() error = %v", err)
	}
	if len(pub.calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", len(pub.calls))
	}
}

func TestPublishMarksConnectionFailuresTemporary(t *testing.T) {
	pub := &publisherFake{errs: []error{nats.ErrConnectionClosed}}
	q := &Queue{pub: pub, reindexSubject: "s"}

	err := q.PublishReindexRequest(context.Background(), domain.IngestRequest{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestPublishKeepsPermanentErrors(t *testing.T) {
	pub := &publisherFake{errs: []error{nats.ErrBadSubject}}
	q := &Queue{pub: pub, reindexSubject: "s"}

	err := q.PublishReindexRequest(context.Background(), domain.IngestRequest{})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestDecodeReindexRequest(t *testing.T) {
	req, err := decodeReindexRequest([]byte("  /srv/proposals \n"))
	if err != nil || req.Root != "/srv/proposals" {
		t.Fatalf("bare path: got %+v, %v", req, err)
	}
	req, err = decodeReindexRequest([]byte(`{"root":"/x","extensions":["pdf"]}`))
	if err != nil || req.Root != "/x" || len(req.Extensions) != 1 {
		t.Fatalf("json: got %+v, %v", req, err)
	}
	req, err = decodeReindexRequest(nil)
	if err != nil || req.Root != "" {
		t.Fatalf("empty: got %+v, %v", req, err)
	}
	if _, err := decodeReindexRequest([]byte(`{"root":`)); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("malformed: expected ErrInvalidInput, got %v", err)
	}
}

func TestHandleReindexMessageDefaultsTrigger(t *testing.T) {
	var got domain.IngestRequest
	handleReindexMessage(context.Background(), []byte(`{"root":"/r"}`), func(_ context.Context, req domain.IngestRequest) error {
		got = req
		return errors.New("logged, not propagated")
	})
	if got.Root != "/r" || got.Trigger != "nats" {
		t.Fatalf("unexpected request %+v", got)
	}

	called := false
	handleReindexMessage(context.Background(), []byte(`{bad`), func(context.Context, domain.IngestRequest) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("malformed message must not reach handler")
	}
}

func TestClassifyNATSError(t *testing.T) {
	if c := classifyNATSError(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("canceled must be neither retryable nor recorded: %+v", c)
	}
	if c := classifyNATSError(nats.ErrNoServers); !c.Retryable {
		t.Fatalf("no servers must be retryable: %+v", c)
	}
	if c := classifyNATSError(errors.New("boom")); c.Retryable || !c.RecordFailure {
		t.Fatalf("unknown error must be permanent: %+v", c)
	}
}
