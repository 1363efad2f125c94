package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("content of "+f), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
}

func locations(resources []domain.SourceResource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Location)
	}
	return out
}

func TestResolveRecursiveFiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"z.txt",
		"b/UPPER.TXT",
		"a/deep/nested.md",
		"a/skip.png",
		"c.pdf",
		"noext",
	)

	got, err := NewResolver().Resolve(context.Background(), root, true, []string{"txt", "md", "pdf"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []string{
		filepath.Join(root, "a/deep/nested.md"),
		filepath.Join(root, "b/UPPER.TXT"),
		filepath.Join(root, "c.pdf"),
		filepath.Join(root, "z.txt"),
	}
	gotLoc := locations(got)
	if len(gotLoc) != len(want) {
		t.Fatalf("expected %d resources, got %v", len(want), gotLoc)
	}
	for i := range want {
		if gotLoc[i] != want[i] {
			t.Fatalf("resource %d = %s, want %s", i, gotLoc[i], want[i])
		}
	}
	if got[1].Extension != "txt" {
		t.Fatalf("expected lowercase extension, got %q", got[1].Extension)
	}
	for _, r := range got {
		if r.Kind != domain.ResourceFile {
			t.Fatalf("expected file kind, got %s", r.Kind)
		}
	}
}

func TestResolveNonRecursiveListsDirectChildrenOnly(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "b.txt", "a.txt", "sub/c.txt")

	got, err := NewResolver().Resolve(context.Background(), root, false, []string{"txt"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	gotLoc := locations(got)
	if len(gotLoc) != 2 || gotLoc[0] != filepath.Join(root, "a.txt") || gotLoc[1] != filepath.Join(root, "b.txt") {
		t.Fatalf("unexpected resources: %v", gotLoc)
	}
}

func TestResolveEmptyFilterIncludesAll(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.bin", "b", "c.txt")

	got, err := NewResolver().Resolve(context.Background(), root, true, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected all 3 files, got %v", locations(got))
	}
}

func TestResolveSingleFileIgnoresFilter(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "notes.txt")
	file := filepath.Join(root, "notes.txt")

	got, err := NewResolver().Resolve(context.Background(), file, true, []string{"txt"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 || got[0].Location != file {
		t.Fatalf("expected single file, got %v", locations(got))
	}

	got, err = NewResolver().Resolve(context.Background(), file, false, []string{"pdf"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 || got[0].Location != file {
		t.Fatalf("expected single file regardless of filter, got %v", locations(got))
	}
}

func TestResolveRemoteRoot(t *testing.T) {
	got, err := NewResolver().Resolve(context.Background(), "https://example.com/docs/Offer.HTML?x=1", true, []string{"txt"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 || got[0].Kind != domain.ResourceRemote || got[0].Extension != "html" {
		t.Fatalf("unexpected remote resource: %+v", got)
	}
}

func TestResolveMissingRootFails(t *testing.T) {
	_, err := NewResolver().Resolve(context.Background(), filepath.Join(t.TempDir(), "missing"), true, nil)
	if !domain.IsKind(err, domain.ErrResourceResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestResolveUnreadableSubdirectoryAborts(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeTree(t, root, "ok.txt", "locked/secret.txt")
	locked := filepath.Join(root, "locked")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	_, err := NewResolver().Resolve(context.Background(), root, true, nil)
	if !domain.IsKind(err, domain.ErrResourceResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestResolveFollowsFileSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "target/real.txt")
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(filepath.Join(root, "target/real.txt"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "missing.txt"), filepath.Join(root, "broken.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	got, err := NewResolver().Resolve(context.Background(), root, false, []string{"txt"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 || got[0].Location != link {
		t.Fatalf("expected only the file symlink, got %v", locations(got))
	}
}

func TestResolveEmptyRoot(t *testing.T) {
	_, err := NewResolver().Resolve(context.Background(), " ", true, nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
