package qdrant

import (
	"errors"
	"net/http"

	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
)

func isConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}

func isNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

func statusOf(err error) int {
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
