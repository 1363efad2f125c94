package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrTemporary    = errors.New("temporary failure")

	ErrResourceResolution = errors.New("resource resolution failed")
	ErrParse              = errors.New("parse failed")
	ErrIndexWrite         = errors.New("index write failed")
	ErrRetrieval          = errors.New("retrieval failed")
	ErrModel              = errors.New("model call failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
