package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// parseXLSX emits one document per sheet, rows as lines and cells separated
// by tabs.
func parseXLSX(ctx context.Context, raw []byte, base map[string]string) ([]domain.Document, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	docs := make([]domain.Document, 0, len(sheets))
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line != "" {
				lines = append(lines, line)
			}
		}
		docs = append(docs, newDocument(strings.Join(lines, "\n"), base, domain.MetaSheet, sheet))
	}
	return docs, nil
}
