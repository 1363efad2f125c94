// Package prompt renders prompt templates with `{slot}` placeholders.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

const (
	SlotInput           = "input"
	SlotSampleProposals = "sample_proposals"
)

//go:embed proposals-prompt-template.txt
var defaultProposalTemplate string

type segment struct {
	literal string
	slot    string
}

// Template is immutable after parsing and safe for concurrent use.
type Template struct {
	source   string
	segments []segment
	slots    map[string]struct{}
}

func DefaultProposalTemplate() *Template {
	tmpl, err := Parse(defaultProposalTemplate)
	if err != nil {
		panic(fmt.Sprintf("embedded proposal template: %v", err))
	}
	return tmpl
}

// Load reads a template from path. An empty path returns the embedded
// proposal template.
func Load(path string, required ...string) (*Template, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProposalTemplate(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	tmpl, err := Parse(string(raw))
	if err != nil {
		return nil, err
	}
	if err := tmpl.Require(required...); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Parse splits source into literals and `{name}` slots. Braces that do not
// enclose an identifier are kept as literal text.
func Parse(source string) (*Template, error) {
	t := &Template{source: source, slots: make(map[string]struct{})}
	var lit strings.Builder
	for i := 0; i < len(source); {
		if source[i] != '{' {
			lit.WriteByte(source[i])
			i++
			continue
		}
		end := strings.IndexByte(source[i+1:], '}')
		if end < 0 || !isIdentifier(source[i+1:i+1+end]) {
			lit.WriteByte(source[i])
			i++
			continue
		}
		name := source[i+1 : i+1+end]
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
		t.segments = append(t.segments, segment{slot: name})
		t.slots[name] = struct{}{}
		i += end + 2
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	if len(t.segments) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse prompt template", fmt.Errorf("template is empty"))
	}
	return t, nil
}

func (t *Template) Require(slots ...string) error {
	var missing []string
	for _, name := range slots {
		if _, ok := t.slots[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate prompt template", fmt.Errorf("missing slots: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func (t *Template) Slots() []string {
	out := make([]string, 0, len(t.slots))
	for _, seg := range t.segments {
		if seg.slot == "" {
			continue
		}
		if !slices.Contains(out, seg.slot) {
			out = append(out, seg.slot)
		}
	}
	return out
}

// Render fills every slot. A slot without a value is an error; extra values
// are ignored.
func (t *Template) Render(values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(t.source))
	for _, seg := range t.segments {
		if seg.slot == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.slot]
		if !ok {
			return "", domain.WrapError(domain.ErrInvalidInput, "render prompt", fmt.Errorf("no value for slot %q", seg.slot))
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
