package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve expands root into the resources of one ingestion run. Directories
// are listed (or walked when recursive) and filtered by extension; a single
// file or a remote URL is returned as-is without filtering.
func (r *Resolver) Resolve(ctx context.Context, root string, recursive bool, extensions []string) ([]domain.SourceResource, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve resources", errors.New("root is empty"))
	}
	if remote, ok := remoteResource(root); ok {
		return []domain.SourceResource{remote}, nil
	}
	root = strings.TrimPrefix(root, "file:")

	info, err := os.Stat(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrResourceResolution, "stat root", err)
	}
	if !info.IsDir() {
		return []domain.SourceResource{fileResource(root)}, nil
	}

	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range NormalizeExtensions(extensions) {
		allowed[ext] = struct{}{}
	}

	var paths []string
	if recursive {
		paths, err = walk(ctx, root)
	} else {
		paths, err = list(ctx, root)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrResourceResolution, "traverse "+root, err)
	}

	out := make([]domain.SourceResource, 0, len(paths))
	for _, p := range paths {
		if len(allowed) > 0 {
			if _, ok := allowed[ExtensionOf(p)]; !ok {
				continue
			}
		}
		out = append(out, fileResource(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out, nil
}

func walk(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		regular, err := isRegular(p, d)
		if err != nil {
			return err
		}
		if regular {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

func list(ctx context.Context, root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := filepath.Join(root, entry.Name())
		regular, err := isRegular(p, entry)
		if err != nil {
			return nil, err
		}
		if regular {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// isRegular follows symlinks to files but never into directories.
func isRegular(p string, d fs.DirEntry) (bool, error) {
	if d.Type().IsRegular() {
		return true, nil
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat symlink %s: %w", p, err)
	}
	return info.Mode().IsRegular(), nil
}

func fileResource(p string) domain.SourceResource {
	return domain.SourceResource{
		Location:  p,
		Extension: ExtensionOf(p),
		Kind:      domain.ResourceFile,
	}
}

func remoteResource(root string) (domain.SourceResource, bool) {
	u, err := url.Parse(root)
	if err != nil || u.Host == "" {
		return domain.SourceResource{}, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return domain.SourceResource{}, false
	}
	return domain.SourceResource{
		Location:  root,
		Extension: ExtensionOf(path.Base(u.Path)),
		Kind:      domain.ResourceRemote,
	}, true
}
