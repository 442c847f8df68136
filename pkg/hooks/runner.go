package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 30 * time.Second

// Registry is an immutable snapshot of the loaded handlers. Chains hold a
// reference on the snapshot they run; a retired snapshot is released once
// the last chain using it ends.
type Registry struct {
	global  []Handler
	project map[string][]Handler

	mu      sync.Mutex
	refs    int
	retired bool
	release func()
}

// acquire takes a reference. It fails once the snapshot is retired.
func (r *Registry) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.refs++
	return true
}

func (r *Registry) done() {
	r.mu.Lock()
	r.refs--
	var fn func()
	if r.retired && r.refs == 0 {
		fn, r.release = r.release, nil
	}
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// retire marks the snapshot replaced and runs fn when no chain uses it.
func (r *Registry) retire(fn func()) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.retired = true
	if r.refs > 0 {
		r.release = fn
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// NewRegistry builds a snapshot. Project keys are cleaned directory paths.
func NewRegistry(global []Handler, project map[string][]Handler) *Registry {
	p := make(map[string][]Handler, len(project))
	for dir, hs := range project {
		p[filepath.Clean(dir)] = append([]Handler(nil), hs...)
	}
	return &Registry{global: append([]Handler(nil), global...), project: p}
}

// Handlers returns the chain for a project: global handlers first, then the
// project's own.
func (r *Registry) Handlers(projectDir string) []Handler {
	if r == nil {
		return nil
	}
	var proj []Handler
	if projectDir != "" {
		proj = r.project[filepath.Clean(projectDir)]
	}
	out := make([]Handler, 0, len(r.global)+len(proj))
	out = append(out, r.global...)
	return append(out, proj...)
}

// Len returns the total number of handlers in the snapshot.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	n := len(r.global)
	for _, hs := range r.project {
		n += len(hs)
	}
	return n
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Logger  *slog.Logger
	Timeout time.Duration // per handler; DefaultTimeout when zero
}

// Runner executes handler chains against the current registry snapshot.
type Runner struct {
	current atomic.Pointer[Registry]
	logger  *slog.Logger
	timeout time.Duration
}

// NewRunner creates a Runner with an empty registry.
func NewRunner(config RunnerConfig) *Runner {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Runner{logger: logger, timeout: timeout}
	r.current.Store(NewRegistry(nil, nil))
	return r
}

// Swap atomically installs a new registry and returns the previous one.
// Chains already running keep the snapshot they started with; use Retire
// to release the previous one safely.
func (r *Runner) Swap(reg *Registry) *Registry {
	if reg == nil {
		reg = NewRegistry(nil, nil)
	}
	return r.current.Swap(reg)
}

// Retire releases a swapped-out snapshot, closing its script states after
// every chain still running on it has finished.
func (r *Runner) Retire(reg *Registry) {
	reg.retire(func() { closeRegistry(reg) })
}

// snapshot returns the current registry with a reference held.
func (r *Runner) snapshot() *Registry {
	for {
		reg := r.current.Load()
		if reg.acquire() {
			return reg
		}
	}
}

// Registry returns the current snapshot.
func (r *Runner) Registry() *Registry {
	return r.current.Load()
}

// Trigger folds the event through every matching handler, global first,
// then those of hc.ProjectDir(). A handler error or panic is logged and
// treated as continue.
func (r *Runner) Trigger(ctx context.Context, event Event, hc Context) Outcome {
	out := Outcome{Event: event}
	if r == nil {
		return out
	}

	projectDir := ""
	if hc != nil {
		projectDir = hc.ProjectDir()
	}
	reg := r.snapshot()
	defer reg.done()
	for _, h := range reg.Handlers(projectDir) {
		if ctx.Err() != nil {
			return out
		}
		if !h.Handles(event.Name) {
			continue
		}

		res, err := r.invoke(ctx, h, out.Event, hc)
		if err != nil {
			r.logger.Warn("hook handler failed",
				"hook", h.Name(), "event", string(event.Name), "error", err)
			continue
		}
		out.Handled++

		switch res.Kind {
		case KindBlock:
			out.Blocked = true
			return out
		case KindOverride:
			out.Overridden = true
			out.Value = res.Value
			return out
		default:
			if len(res.Patch) > 0 {
				out.Event = out.Event.With(res.Patch)
			}
		}
	}
	return out
}

func (r *Runner) invoke(ctx context.Context, h Handler, event Event, hc Context) (res Result, err error) {
	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h.Handle(hctx, event, hc)
}
