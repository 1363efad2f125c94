package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "canceled", err: context.Canceled, retryable: false, record: false},
		{name: "open circuit", err: gobreaker.ErrOpenState, retryable: true, record: true},
		{name: "503", err: &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, retryable: true, record: true},
		{name: "400", err: fmt.Errorf("wrapped: %w", &HTTPStatusError{StatusCode: http.StatusBadRequest}), retryable: false, record: false},
		{name: "network", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, retryable: true, record: true},
		{name: "decode", err: errors.New("decode response"), retryable: false, record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyHTTPError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("ClassifyHTTPError() = %+v", got)
			}
		})
	}
}

func TestWrapTemporary(t *testing.T) {
	err := WrapTemporary("qdrant search", &HTTPStatusError{Service: "qdrant", Operation: "search", StatusCode: 502, Status: "502 Bad Gateway"}, nil)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	permanent := &HTTPStatusError{StatusCode: 404, Status: "404 Not Found"}
	if got := WrapTemporary("op", permanent, nil); domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("404 must stay permanent, got %v", got)
	}
	if WrapTemporary("op", nil, nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
