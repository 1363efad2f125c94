package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// Storage opens file resources. Relative locations are resolved against
// basePath; an empty basePath means the process working directory.
type Storage struct {
	basePath string
}

func New(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

func (s *Storage) Open(ctx context.Context, res domain.SourceResource) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.Kind != domain.ResourceFile {
		return nil, fmt.Errorf("open resource %s: unsupported kind %q", res.Location, res.Kind)
	}
	path := res.Location
	if s.basePath != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.basePath, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Size reports the byte length of a file resource without reading it.
func (s *Storage) Size(res domain.SourceResource) (int64, error) {
	path := res.Location
	if s.basePath != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.basePath, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}
