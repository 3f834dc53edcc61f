package personas

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the bursts of events editors produce when
// saving a file.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch re-imports persona documents in dir as they are created or written,
// until ctx is done. A document that fails validation is logged and the
// stored config stays in effect.
func (r *Repository) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("personas: watch: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("personas: watch %s: %w", dir, err)
	}
	r.logger.Info("watching persona directory", "dir", dir)
	go r.watchLoop(ctx, w, debounce)
	return nil
}

func (r *Repository) watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) {
	defer w.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create|fsnotify.Write) || !isPersonaFile(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("persona watch error", "err", err)
		case <-timer.C:
			for path := range pending {
				r.reload(ctx, path)
			}
			clear(pending)
		}
	}
}

func (r *Repository) reload(ctx context.Context, path string) {
	cfg, err := LoadFile(path)
	if err != nil {
		r.logger.Warn("persona reload rejected", "file", path, "err", err)
		return
	}
	seeded, err := r.Import(ctx, cfg)
	if err != nil {
		r.logger.Error("persona reload failed", "persona", cfg.ID, "err", err)
		return
	}
	r.logger.Info("persona reloaded", "persona", cfg.ID, "seeded_locket", seeded)
}

func isPersonaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
