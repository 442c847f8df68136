package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/taskcore/pkg/approval"
	"github.com/jg-phare/taskcore/pkg/config"
	"github.com/jg-phare/taskcore/pkg/connector"
	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/model"
	"github.com/jg-phare/taskcore/pkg/store"
	"github.com/jg-phare/taskcore/pkg/subagent"
	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/worktree"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the connector and UI websocket endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger, closeLog, err := opts.logger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			return a.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides [server] listen)")
	return cmd
}

// app is the fully wired server.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	watcher  *hooks.Watcher
	profiles *subagent.Profiles
	manager  *task.Manager
	server   *connector.Server
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	static := make([]hooks.Handler, 0, len(cfg.Hooks.Command))
	for _, c := range cfg.Hooks.Command {
		h, err := hooks.NewCommandHandler(c)
		if err != nil {
			return nil, err
		}
		static = append(static, h)
	}

	runner := hooks.NewRunner(hooks.RunnerConfig{
		Logger:  logger.With("component", "hooks"),
		Timeout: cfg.HookTimeout(),
	})
	watcher := hooks.NewWatcher(&hooks.Loader{
		GlobalDir:     cfg.Hooks.GlobalDir,
		ProjectSubdir: cfg.Hooks.ProjectDir,
		Static:        static,
	}, runner, hooks.WatcherConfig{
		Logger:   logger.With("component", "hooks"),
		Debounce: cfg.HookDebounce(),
		OnReload: func(r hooks.LoadReport) {
			for _, e := range r.Errors {
				logger.Warn("hook script failed to load", "path", e.Path, "error", e.Err)
			}
		},
	})
	watcher.Reload()

	profiles := subagent.NewProfiles(&subagent.Loader{
		GlobalDir:     cfg.Subagents.GlobalDir,
		ProjectSubdir: cfg.Subagents.ProjectDir,
	})

	st := store.New(cfg.Storage.Dir)
	hub := connector.NewHub(logger.With("component", "hub"))

	// New tasks bring their project's hook scripts into the registry.
	// AddProject reloads synchronously, so it runs off the publisher.
	trackProjects := task.SinkFunc(func(ev task.Event) {
		if ev.Type == task.EventTaskCreated && ev.Meta != nil {
			go watcher.AddProject(ev.Meta.ProjectDir)
		}
	})

	manager := task.NewManager(task.Config{
		Store: st,
		Hooks: runner,
		Gate: approval.NewGate(approval.GateConfig{
			Policy: cfg.Approval,
			Hooks:  runner,
			Logger: logger.With("component", "approval"),
		}),
		Profiles: profiles,
		Model: model.NewGollm(model.Config{
			Provider:  cfg.Agent.Provider,
			Model:     cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			Logger:    logger.With("component", "model"),
		}),
		Worktrees: worktree.NewManager(worktree.Config{
			Dir:        cfg.Worktree.Dir,
			BaseBranch: cfg.Worktree.BaseBranch,
			Logger:     logger.With("component", "worktree"),
		}),
		Sink:          task.MultiSink{hub, trackProjects},
		Logger:        logger,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		DefaultModels: cfg.Models(),
		MaxTurns:      cfg.Agent.MaxTurns,
		MaxDepth:      cfg.Subagents.MaxDepth,
		MaxConcurrent: cfg.Subagents.MaxConcurrent,
	})

	adapter := connector.NewAdapter(connector.AdapterConfig{
		Tasks:  manager,
		Logger: logger.With("component", "connector"),
	})
	server := connector.NewServer(connector.ServerConfig{
		Manager:        manager,
		Adapter:        adapter,
		Hub:            hub,
		Logger:         logger.With("component", "server"),
		OriginPatterns: cfg.Server.Origins,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		watcher:  watcher,
		profiles: profiles,
		manager:  manager,
		server:   server,
	}, nil
}

// run serves until ctx is cancelled, then closes every live task.
func (a *app) run(ctx context.Context) error {
	projects := a.knownProjects()
	for _, p := range projects {
		a.watcher.AddProject(p)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := a.watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("hook watcher stopped", "error", err)
		}
	}()
	go func() {
		if err := a.profiles.Watch(ctx, projects...); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("profile watcher stopped", "error", err)
		}
	}()

	err := a.server.ListenAndServe(ctx, a.cfg.Server.Listen)
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	done := make(chan error, 1)
	go func() { done <- errors.Join(a.manager.Close(), a.store.Close()) }()
	select {
	case cerr := <-done:
		err = errors.Join(err, cerr)
	case <-closeCtx.Done():
		a.logger.Warn("shutdown timed out")
	}
	return err
}

// knownProjects returns the project directories of stored tasks.
func (a *app) knownProjects() []string {
	metas, err := a.store.List()
	if err != nil {
		a.logger.Warn("listing stored tasks failed", "error", err)
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range metas {
		if !seen[m.ProjectDir] {
			seen[m.ProjectDir] = true
			out = append(out, m.ProjectDir)
		}
	}
	return out
}
