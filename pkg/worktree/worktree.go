// Package worktree isolates tasks in git worktrees. Repository discovery and
// status use go-git; worktree creation and removal shell out to git, which
// go-git does not support for linked worktrees.
package worktree

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// BranchPrefix prefixes the branch of every task worktree.
const BranchPrefix = "taskcore/"

var (
	ErrNotRepository = errors.New("not a git repository")
	ErrNotFound      = errors.New("worktree not found")
	ErrDirty         = errors.New("worktree has uncommitted changes")
)

// Config configures a Manager.
type Config struct {
	// Dir holds worktrees. Empty means <repo>/.git/taskcore/worktrees.
	Dir string
	// BaseBranch new branches start from. Empty means the current HEAD.
	BaseBranch string
	Logger     *slog.Logger
}

// Info describes one registered worktree.
type Info struct {
	Path   string
	Branch string
}

// Manager creates and removes task worktrees.
type Manager struct {
	dir        string
	baseBranch string
	logger     *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{dir: cfg.Dir, baseBranch: cfg.BaseBranch, logger: cfg.Logger}
}

// Branch returns the branch name used for a task.
func Branch(taskID string) string {
	return BranchPrefix + taskID
}

// RepoRoot returns the top-level directory of the repository containing dir.
func (m *Manager) RepoRoot(dir string) (string, error) {
	repo, err := open(dir)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// BaseBranch returns the configured base branch, or the branch HEAD points
// at in projectDir.
func (m *Manager) BaseBranch(projectDir string) (string, error) {
	if m.baseBranch != "" {
		return m.baseBranch, nil
	}
	repo, err := open(projectDir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String(), nil
}

// Path returns where the worktree of a task lives.
func (m *Manager) Path(repoRoot, taskID string) string {
	if m.dir != "" {
		return filepath.Join(m.dir, taskID)
	}
	return filepath.Join(repoRoot, ".git", "taskcore", "worktrees", taskID)
}

// Create adds a worktree for taskID on branch taskcore/<taskID>. An existing
// worktree for the task is reused.
func (m *Manager) Create(ctx context.Context, projectDir, taskID string) (string, error) {
	root, err := m.RepoRoot(projectDir)
	if err != nil {
		return "", err
	}
	branch := Branch(taskID)
	path := m.Path(root, taskID)

	if existing, err := m.find(ctx, root, branch); err == nil {
		if _, statErr := os.Stat(existing.Path); statErr == nil {
			return existing.Path, nil
		}
	}

	var args []string
	if m.branchExists(root, branch) {
		args = []string{"worktree", "add", path, branch}
	} else {
		base, err := m.BaseBranch(projectDir)
		if err != nil {
			return "", err
		}
		args = []string{"worktree", "add", "-b", branch, path, base}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create worktree dir: %w", err)
	}

	out, err := runGit(ctx, root, args...)
	if err != nil && strings.Contains(out, "already registered") {
		if _, pruneErr := runGit(ctx, root, "worktree", "prune"); pruneErr != nil {
			return "", fmt.Errorf("prune stale worktrees: %w", pruneErr)
		}
		out, err = runGit(ctx, root, args...)
	}
	if err != nil {
		return "", fmt.Errorf("create worktree: %w: %s", err, out)
	}
	m.logger.Info("worktree created", "task_id", taskID, "path", path)
	return path, nil
}

// Remove deletes the worktree of a task. Without force a dirty worktree is
// kept and ErrDirty returned. The branch is left in place.
func (m *Manager) Remove(ctx context.Context, projectDir, taskID string, force bool) error {
	root, err := m.RepoRoot(projectDir)
	if err != nil {
		return err
	}
	info, err := m.find(ctx, root, Branch(taskID))
	if err != nil {
		return err
	}

	if !force {
		if dirty, err := m.IsDirty(info.Path); err == nil && dirty {
			return ErrDirty
		}
	}
	args := []string{"worktree", "remove", info.Path}
	if force {
		args = append(args, "--force")
	}
	if out, err := runGit(ctx, root, args...); err != nil {
		if strings.Contains(out, "contains modified or untracked files") {
			return ErrDirty
		}
		return fmt.Errorf("remove worktree: %w: %s", err, out)
	}
	m.logger.Info("worktree removed", "task_id", taskID, "path", info.Path)
	return nil
}

// IsDirty reports whether the checkout at dir has uncommitted changes.
func (m *Manager) IsDirty(dir string) (bool, error) {
	repo, err := open(dir)
	if err != nil {
		return false, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return !st.IsClean(), nil
}

// List returns the task worktrees of the repository containing projectDir.
func (m *Manager) List(ctx context.Context, projectDir string) ([]Info, error) {
	root, err := m.RepoRoot(projectDir)
	if err != nil {
		return nil, err
	}
	all, err := m.list(ctx, root)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, wt := range all {
		if strings.HasPrefix(wt.Branch, BranchPrefix) {
			out = append(out, wt)
		}
	}
	return out, nil
}

func (m *Manager) find(ctx context.Context, root, branch string) (Info, error) {
	all, err := m.list(ctx, root)
	if err != nil {
		return Info{}, err
	}
	for _, wt := range all {
		if wt.Branch == branch {
			return wt, nil
		}
	}
	return Info{}, ErrNotFound
}

func (m *Manager) list(ctx context.Context, root string) ([]Info, error) {
	out, err := runGit(ctx, root, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseList(out)
}

func (m *Manager) branchExists(root, branch string) bool {
	repo, err := open(root)
	if err != nil {
		return false
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), false)
	return err == nil
}

// parseList parses `git worktree list --porcelain`:
//
//	worktree /path/to/worktree
//	HEAD abc123
//	branch refs/heads/branch-name
//	<blank line>
func parseList(output string) ([]Info, error) {
	var out []Info
	var cur Info
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			if cur.Path != "" {
				out = append(out, cur)
			}
			cur = Info{}
		}
	}
	if cur.Path != "" {
		out = append(out, cur)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return out, nil
}

func open(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
