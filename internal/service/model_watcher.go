package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/messagequeue"
)

// ChainReloader is the part of ModelResolver the watcher drives.
type ChainReloader interface {
	Reload(chains map[string]model.Chain) error
	Invalidate(name string)
	InvalidateAll()
}

var _ ChainReloader = (*ModelResolver)(nil)

const defaultReloadDebounce = 250 * time.Millisecond

// ModelWatcher keeps the resolver's chain set in sync with models.file and
// handles operator reload requests from the queue.
type ModelWatcher struct {
	path     string
	base     map[string]model.Chain
	target   ChainReloader
	log      *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	reloads int
}

// NewModelWatcher creates a watcher for path. Chains in base are kept unless
// the file defines a chain of the same name.
func NewModelWatcher(path string, base map[string]model.Chain, target ChainReloader, log *slog.Logger) *ModelWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &ModelWatcher{
		path:     path,
		base:     base,
		target:   target,
		log:      log,
		debounce: defaultReloadDebounce,
	}
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *ModelWatcher) SetDebounce(d time.Duration) { w.debounce = d }

// Reloads returns the number of successful reloads.
func (w *ModelWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// ReloadNow reads the models file and swaps the resolver's chains. An
// invalid file leaves the current chains in place.
func (w *ModelWatcher) ReloadNow() error {
	chains, err := config.LoadModelsFile(w.path)
	if err != nil {
		return fmt.Errorf("reload models: %w", err)
	}
	if err := w.target.Reload(config.MergeChains(w.base, chains)); err != nil {
		return fmt.Errorf("reload models: %w", err)
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	return nil
}

// Run watches the directory holding the models file until ctx is done.
// Editors often replace files by rename, so the directory is watched and
// events are filtered by name.
func (w *ModelWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	want := filepath.Clean(w.path)
	w.log.Info("watching model chains", "path", w.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != want || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("model watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := w.ReloadNow(); err != nil {
				w.log.Error("model chains not reloaded", "path", w.path, "error", err)
				continue
			}
			w.log.Info("model chains reloaded", "path", w.path)
		}
	}
}

// HandleReloadMessage is the queue handler for models.reload. A name
// invalidates that model; an empty name re-reads the file when one is
// configured and otherwise invalidates every model.
func (w *ModelWatcher) HandleReloadMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.ModelReloadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		w.log.WarnContext(ctx, "discarding malformed reload request", "error", err)
		return nil
	}
	if p.Name != "" {
		w.target.Invalidate(p.Name)
		w.log.InfoContext(ctx, "model invalidated", "model", p.Name)
		return nil
	}
	if w.path == "" {
		w.target.InvalidateAll()
		w.log.InfoContext(ctx, "all models invalidated")
		return nil
	}
	if err := w.ReloadNow(); err != nil {
		w.log.ErrorContext(ctx, "model chains not reloaded", "error", err)
		w.target.InvalidateAll()
	}
	return nil
}
