// Package watch re-runs ingestion when files under the corpus root change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resource/filesystem"
)

const DefaultDebounce = 2 * time.Second

// Trigger starts one ingestion run.
type Trigger func(ctx context.Context) error

type Watcher struct {
	root string
	// file is the cleaned root when the root is a single file.
	file       string
	recursive  bool
	extensions map[string]struct{}
	debounce   time.Duration
	trigger    Trigger
}

func New(root string, recursive bool, extensions []string, debounce time.Duration, trigger Trigger) (*Watcher, error) {
	if strings.TrimSpace(root) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new watcher", fmt.Errorf("root is required"))
	}
	if trigger == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new watcher", fmt.Errorf("trigger is required"))
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	exts := make(map[string]struct{})
	for _, ext := range filesystem.NormalizeExtensions(extensions) {
		exts[ext] = struct{}{}
	}
	w := &Watcher{
		root:       root,
		recursive:  recursive,
		extensions: exts,
		debounce:   debounce,
		trigger:    trigger,
	}
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		w.file = filepath.Clean(root)
	}
	return w, nil
}

// Run blocks until ctx is done. Bursts of relevant events collapse into one
// trigger call; events arriving while a run is active schedule one more run.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	slog.Info("watch_started", "root", w.root, "recursive", w.recursive, "debounce_ms", w.debounce.Milliseconds())

	timer := time.NewTimer(w.debounce)
	stopTimer(timer)
	var (
		running bool
		pending bool
		done    = make(chan error, 1)
	)

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.isNewDir(event) {
				if err := w.addTree(fw, event.Name); err != nil {
					slog.Warn("watch_add_failed", "path", event.Name, "error", err)
				}
				continue
			}
			if !w.Relevant(event) {
				continue
			}
			slog.Debug("watch_event", "path", event.Name, "op", event.Op.String())
			stopTimer(timer)
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", "error", err)
		case <-timer.C:
			if running {
				pending = true
				continue
			}
			running = true
			go func() {
				done <- w.trigger(ctx)
			}()
		case err := <-done:
			running = false
			if err != nil {
				slog.Error("watch_ingestion_failed", "root", w.root, "error", err)
				// Another run held the lock; retry after it settles.
				if domain.IsKind(err, domain.ErrConflict) {
					pending = true
				}
			}
			if pending {
				pending = false
				timer.Reset(w.debounce)
			}
		}
	}
}

// Relevant reports whether event should schedule a re-ingestion. A single
// file root matches only events on that file, whatever its extension.
func (w *Watcher) Relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if w.file != "" {
		return filepath.Clean(event.Name) == w.file
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if len(w.extensions) == 0 {
		return true
	}
	_, ok := w.extensions[filesystem.ExtensionOf(event.Name)]
	return ok
}

func (w *Watcher) isNewDir(event fsnotify.Event) bool {
	if w.file != "" || !w.recursive || !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	return err == nil && info.IsDir()
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return domain.WrapError(domain.ErrResourceResolution, "watch root", err)
	}
	if !info.IsDir() {
		w.file = filepath.Clean(root)
		// Watching the parent keeps editors that replace files atomically visible.
		if err := fw.Add(filepath.Dir(root)); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		return nil
	}
	if !w.recursive {
		if err := fw.Add(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
