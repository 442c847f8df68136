package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/taskcore/pkg/config"
	"github.com/jg-phare/taskcore/pkg/store"
	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/types"
	"github.com/jg-phare/taskcore/pkg/worktree"
)

func newTasksCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and clean up stored tasks",
	}
	cmd.AddCommand(
		newTasksListCommand(opts),
		newTasksShowCommand(opts),
		newTasksDeleteCommand(opts),
		newTasksPruneCommand(opts),
	)
	return cmd
}

func openStore(opts *globalOptions) (*config.Config, *store.Store, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, store.New(cfg.Storage.Dir), nil
}

func newTasksListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored tasks, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			m := task.NewManager(task.Config{Store: st})
			defer m.Close()
			metas, err := m.List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			printTasks(cmd.OutOrStdout(), metas)
			return nil
		},
	}
}

func printTasks(out io.Writer, metas []types.TaskMeta) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tPROJECT\tTOKENS\tCOST\tUPDATED")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			m.ID, m.Name, m.WorkMode, m.ProjectDir,
			m.Usage.InputTokens+m.Usage.OutputTokens, m.Usage.Cost,
			m.UpdatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func newTasksShowCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a task's metadata and message log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			m := rec.Meta
			fmt.Fprintf(out, "Task:     %s %s\n", m.ID, m.Name)
			fmt.Fprintf(out, "Project:  %s (%s)\n", m.ProjectDir, m.WorkMode)
			if m.WorkspaceDir != "" {
				fmt.Fprintf(out, "Worktree: %s\n", m.WorkspaceDir)
			}
			fmt.Fprintf(out, "Models:   %s\n", m.Models.Main)
			fmt.Fprintf(out, "Usage:    %d in / %d out, $%.4f\n", m.Usage.InputTokens, m.Usage.OutputTokens, m.Usage.Cost)
			for _, f := range m.ContextFiles {
				ro := ""
				if f.ReadOnly {
					ro = " (read-only)"
				}
				fmt.Fprintf(out, "File:     %s%s\n", f.Path, ro)
			}
			fmt.Fprintln(out)

			msgs := rec.Messages
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			for _, msg := range msgs {
				fmt.Fprintln(out, formatMessage(msg))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n messages")
	return cmd
}

// formatMessage renders one log line: kind, then content or tool call.
func formatMessage(m types.ContextMessage) string {
	switch {
	case m.Kind == types.KindTool && m.Tool != nil:
		line := fmt.Sprintf("[tool] %s %s", m.Tool.Key(), m.Tool.Status)
		if m.Tool.IsError {
			line += " (error)"
		}
		if r := firstLine(m.Tool.Response); r != "" {
			line += ": " + r
		}
		return line
	case m.Kind == types.KindLog:
		return fmt.Sprintf("[%s] %s", m.Level, firstLine(m.Content))
	}
	return fmt.Sprintf("[%s] %s", m.Kind, firstLine(m.Content))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func newTasksDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete tasks and their worktrees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			m := task.NewManager(task.Config{
				Store: st,
				Worktrees: worktree.NewManager(worktree.Config{
					Dir:        cfg.Worktree.Dir,
					BaseBranch: cfg.Worktree.BaseBranch,
				}),
			})
			defer m.Close()
			for _, id := range args {
				if err := m.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}

func newTasksPruneCommand(opts *globalOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete tasks idle for longer than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			retention := cfg.Retention()
			if days > 0 {
				retention = time.Duration(days) * 24 * time.Hour
			}
			stats, err := st.Prune(retention, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d tasks, freed %d bytes\n", stats.TasksDeleted, stats.BytesFreed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (overrides [storage] retention_days)")
	return cmd
}
