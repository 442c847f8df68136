package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/subagent"
)

func newHooksCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Work with hook scripts",
	}
	cmd.AddCommand(newHooksCheckCommand(opts))
	return cmd
}

func newHooksCheckCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [project]...",
		Short: "Load global and project hook scripts and subagent profiles, reporting errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			projects := args
			if len(projects) == 0 && opts.projectDir != "" {
				projects = []string{opts.projectDir}
			}

			for i, c := range cfg.Hooks.Command {
				if _, err := hooks.NewCommandHandler(c); err != nil {
					return fmt.Errorf("hooks.command[%d]: %w", i, err)
				}
			}

			loader := &hooks.Loader{GlobalDir: cfg.Hooks.GlobalDir, ProjectSubdir: cfg.Hooks.ProjectDir}
			_, report := loader.Load(projects)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d command hooks\n", len(cfg.Hooks.Command))
			for _, path := range report.Loaded {
				fmt.Fprintf(out, "ok    %s\n", path)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(out, "error %s: %v\n", e.Path, e.Err)
			}

			profiles := &subagent.Loader{GlobalDir: cfg.Subagents.GlobalDir, ProjectSubdir: cfg.Subagents.ProjectDir}
			var profileErrs []error
			for _, p := range append([]string{""}, projects...) {
				set, errs := profiles.Load(p)
				profileErrs = append(profileErrs, errs...)
				if p != "" {
					fmt.Fprintf(out, "%d subagent profiles visible from %s\n", len(set), p)
				}
			}
			for _, e := range profileErrs {
				fmt.Fprintf(out, "error %v\n", e)
			}

			if n := len(report.Errors) + len(profileErrs); n > 0 {
				return fmt.Errorf("%d files failed to load", n)
			}
			return nil
		},
	}
}
