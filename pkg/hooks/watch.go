package hooks

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 200 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Logger   *slog.Logger
	Debounce time.Duration
	// OnReload is called after each reload with its report.
	OnReload func(LoadReport)
}

// Watcher keeps a Runner's registry in sync with the hook directories.
type Watcher struct {
	loader   *Loader
	runner   *Runner
	logger   *slog.Logger
	debounce time.Duration
	onReload func(LoadReport)

	reloadMu sync.Mutex // serializes reloads

	mu       sync.Mutex
	projects map[string]bool
	fsw      *fsnotify.Watcher
	timer    *time.Timer
	pending  bool
}

// NewWatcher creates a Watcher. Call Reload once to install the initial
// registry and Watch to follow changes.
func NewWatcher(loader *Loader, runner *Runner, config WatcherConfig) *Watcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	debounce := config.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   loader,
		runner:   runner,
		logger:   logger,
		debounce: debounce,
		onReload: config.OnReload,
		projects: make(map[string]bool),
	}
}

// AddProject starts tracking a project's hook directory. The first call for
// a project reloads synchronously so its handlers apply immediately.
func (w *Watcher) AddProject(projectDir string) {
	projectDir = filepath.Clean(projectDir)
	w.mu.Lock()
	if w.projects[projectDir] {
		w.mu.Unlock()
		return
	}
	w.projects[projectDir] = true
	if w.fsw != nil {
		_ = w.fsw.Add(w.loader.ProjectHookDir(projectDir)) // missing dirs are fine
	}
	w.mu.Unlock()

	w.Reload()
}

// Reload loads all directories and swaps the registry atomically. Chains
// that already started keep using the previous snapshot.
func (w *Watcher) Reload() LoadReport {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	reg, report := w.loader.Load(w.projectList())
	for _, fe := range report.Errors {
		w.logger.Warn("hook load failed", "path", fe.Path, "error", fe.Err)
	}
	w.runner.Retire(w.runner.Swap(reg))

	w.logger.Debug("hooks reloaded", "handlers", reg.Len(), "errors", len(report.Errors))
	if w.onReload != nil {
		w.onReload(report)
	}
	return report
}

func (w *Watcher) projectList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.projects))
	for p := range w.projects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Watch follows the global and project hook directories, reloading after
// each burst of *.lua changes. It blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w.mu.Lock()
	w.fsw = fsw
	if w.loader.GlobalDir != "" {
		_ = fsw.Add(w.loader.GlobalDir)
	}
	for p := range w.projects {
		_ = fsw.Add(w.loader.ProjectHookDir(p))
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.fsw = nil
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".lua" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("hook watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pending {
		w.pending = true
		w.timer = time.AfterFunc(w.debounce, func() {
			w.mu.Lock()
			w.pending = false
			w.mu.Unlock()
			w.Reload()
		})
		return
	}
	w.timer.Reset(w.debounce)
}
