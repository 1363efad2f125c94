package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatDOCX     = "docx"
	FormatXLSX     = "xlsx"
	FormatDOC      = "doc"
)

const defaultMaxBytes int64 = 64 << 20

var errUnsupported = errors.New("unsupported format")

type formatParser func(ctx context.Context, raw []byte, base map[string]string) ([]domain.Document, error)

// Registry opens a resource with the opener registered for its kind and
// dispatches the bytes to a format parser chosen by extension or, failing
// that, by content sniffing.
type Registry struct {
	openers  map[domain.ResourceKind]ports.ResourceOpener
	parsers  map[string]formatParser
	byExt    map[string]string
	maxBytes int64
}

func NewRegistry(openers map[domain.ResourceKind]ports.ResourceOpener, maxBytes int64) *Registry {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	r := &Registry{
		openers:  openers,
		maxBytes: maxBytes,
		parsers: map[string]formatParser{
			FormatText:     parseText,
			FormatMarkdown: parseText,
			FormatHTML:     parseHTML,
			FormatPDF:      parsePDF,
			FormatDOCX:     parseDOCX,
			FormatXLSX:     parseXLSX,
			FormatDOC:      parseDOC,
		},
		byExt: map[string]string{
			"txt":      FormatText,
			"text":     FormatText,
			"csv":      FormatText,
			"json":     FormatText,
			"log":      FormatText,
			"md":       FormatMarkdown,
			"markdown": FormatMarkdown,
			"html":     FormatHTML,
			"htm":      FormatHTML,
			"pdf":      FormatPDF,
			"docx":     FormatDOCX,
			"xlsx":     FormatXLSX,
			"doc":      FormatDOC,
		},
	}
	return r
}

// Parse returns the non-blank documents of a resource, each carrying source,
// file_name, extension and format metadata. Every failure is ErrParse.
func (r *Registry) Parse(ctx context.Context, res domain.SourceResource) ([]domain.Document, error) {
	opener, ok := r.openers[res.Kind]
	if !ok {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, fmt.Errorf("no opener for kind %q", res.Kind))
	}
	rc, err := opener.Open(ctx, res)
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, r.maxBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, fmt.Errorf("read resource: %w", err))
	}
	if int64(len(raw)) > r.maxBytes {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, fmt.Errorf("resource exceeds %d bytes", r.maxBytes))
	}

	format := r.detect(res.Extension, raw)
	parse, ok := r.parsers[format]
	if !ok {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, fmt.Errorf("%w: %s", errUnsupported, format))
	}

	base := map[string]string{
		domain.MetaSource:    res.Location,
		domain.MetaFileName:  fileName(res),
		domain.MetaExtension: res.Extension,
		domain.MetaFormat:    format,
	}
	docs, err := safeParse(ctx, parse, raw, base)
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, err)
	}

	out := docs[:0]
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// Formats lists the extensions the registry understands.
func (r *Registry) Formats() map[string]string {
	out := make(map[string]string, len(r.byExt))
	for ext, format := range r.byExt {
		out[ext] = format
	}
	return out
}

func (r *Registry) detect(ext string, raw []byte) string {
	if format, ok := r.byExt[strings.ToLower(ext)]; ok {
		return format
	}
	return sniff(raw)
}

func sniff(raw []byte) string {
	if bytes.HasPrefix(raw, oleSignature) {
		return FormatDOC
	}
	contentType := http.DetectContentType(raw)
	switch {
	case strings.HasPrefix(contentType, "text/html"):
		return FormatHTML
	case strings.HasPrefix(contentType, "application/pdf"):
		return FormatPDF
	case strings.HasPrefix(contentType, "application/zip"):
		return sniffZip(raw)
	case strings.HasPrefix(contentType, "text/"):
		return FormatText
	}
	return contentType
}

func sniffZip(raw []byte) string {
	switch {
	case bytes.Contains(raw, []byte("word/document.xml")):
		return FormatDOCX
	case bytes.Contains(raw, []byte("xl/workbook.xml")):
		return FormatXLSX
	}
	return "application/zip"
}

// safeParse converts panics from third-party decoders into errors so that a
// malformed file cannot take down an ingestion run.
func safeParse(ctx context.Context, parse formatParser, raw []byte, base map[string]string) (docs []domain.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decoder panic: %v", rec)
		}
	}()
	return parse(ctx, raw, base)
}

func fileName(res domain.SourceResource) string {
	loc := res.Location
	if res.Kind == domain.ResourceRemote {
		if i := strings.IndexAny(loc, "?#"); i >= 0 {
			loc = loc[:i]
		}
	}
	loc = strings.ReplaceAll(loc, "\\", "/")
	return path.Base(loc)
}

func newDocument(text string, base map[string]string, extra ...string) domain.Document {
	meta := domain.CopyMetadata(base)
	for i := 0; i+1 < len(extra); i += 2 {
		meta[extra[i]] = extra[i+1]
	}
	return domain.Document{Text: text, Metadata: meta}
}
