package parser

import (
	"bytes"
	"context"
	"errors"
	"unicode/utf8"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseText(_ context.Context, raw []byte, base map[string]string) ([]domain.Document, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		return nil, errors.New("text is not valid UTF-8")
	}
	return []domain.Document{newDocument(string(raw), base)}, nil
}
