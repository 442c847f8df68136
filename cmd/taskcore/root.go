package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jg-phare/taskcore/pkg/config"
	"github.com/jg-phare/taskcore/pkg/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configDir  string
	projectDir string
	logLevel   string
}

func newRootCommand(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "taskcore",
		Short: "Task orchestration server for coding agents",
		Long: `taskcore hosts coding tasks. Each task runs its own agent or drives an
external subprocess connected over a websocket, with lifecycle hooks,
tool approvals and subagent delegation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", config.DefaultGlobalDir(), "directory holding config.toml and default data")
	root.PersistentFlags().StringVar(&opts.projectDir, "project", "", "project whose .taskcore/config.toml overrides the global file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCommand(opts),
		newTasksCommand(opts),
		newHooksCommand(opts),
	)
	return root
}

// load reads the merged configuration.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := (&config.Loader{GlobalDir: o.configDir}).Load(o.projectDir)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// logger builds the process logger. Commands other than serve log to
// stderr only when no file is configured.
func (o *globalOptions) logger(cfg *config.Config) (*slog.Logger, func() error, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: os.Stderr,
	})
}
