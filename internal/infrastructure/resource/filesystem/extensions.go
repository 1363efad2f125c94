package filesystem

import (
	"path/filepath"
	"strings"
)

// ParseExtensions turns a comma-separated allow-list into normalized
// extensions. An empty list means every extension is accepted.
func ParseExtensions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return NormalizeExtensions(strings.Split(raw, ","))
}

// NormalizeExtensions trims, strips one leading dot, lower-cases and
// deduplicates while keeping the first occurrence order.
func NormalizeExtensions(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		ext := strings.TrimSpace(item)
		ext = strings.TrimPrefix(ext, ".")
		ext = strings.ToLower(ext)
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ExtensionOf returns the lowercase text after the last dot of the file name,
// without the dot.
func ExtensionOf(path string) string {
	name := filepath.Base(path)
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return ""
	}
	return strings.ToLower(name[dot+1:])
}
