package parser

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// parsePDF emits one document per page that has a content stream.
func parsePDF(ctx context.Context, raw []byte, base map[string]string) ([]domain.Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	docs := make([]domain.Document, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		docs = append(docs, newDocument(text, base, domain.MetaPageNumber, strconv.Itoa(i)))
	}
	return docs, nil
}
