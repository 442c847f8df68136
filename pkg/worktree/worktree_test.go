package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRepo creates a repository with one commit on branch main.
func setupRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		require.NoError(t, cmd.Run(), args)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# Test"), 0o644))
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "init"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		require.NoError(t, cmd.Run(), args)
	}
	return root
}

func TestManager_CreateListRemove(t *testing.T) {
	root := setupRepo(t)
	wtDir := t.TempDir()
	m := NewManager(Config{Dir: wtDir})
	ctx := context.Background()

	path, err := m.Create(ctx, root, "t1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wtDir, "t1"), path)
	assert.FileExists(t, filepath.Join(path, "README.md"))

	again, err := m.Create(ctx, root, "t1")
	require.NoError(t, err)
	assert.Equal(t, path, again)

	list, err := m.List(ctx, root)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "taskcore/t1", list[0].Branch)

	require.NoError(t, m.Remove(ctx, root, "t1", false))
	assert.NoDirExists(t, path)

	_, err = m.List(ctx, root)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Remove(ctx, root, "t1", false), ErrNotFound)
}

func TestManager_RemoveDirty(t *testing.T) {
	root := setupRepo(t)
	m := NewManager(Config{Dir: t.TempDir()})
	ctx := context.Background()

	path, err := m.Create(ctx, root, "t2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "new.txt"), []byte("x"), 0o644))

	assert.ErrorIs(t, m.Remove(ctx, root, "t2", false), ErrDirty)
	assert.DirExists(t, path)

	require.NoError(t, m.Remove(ctx, root, "t2", true))
	assert.NoDirExists(t, path)
}

func TestManager_IsDirty(t *testing.T) {
	root := setupRepo(t)
	m := NewManager(Config{})

	dirty, err := m.IsDirty(root)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("changed"), 0o644))
	dirty, err = m.IsDirty(root)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestManager_BaseBranchAndRoot(t *testing.T) {
	root := setupRepo(t)
	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	m := NewManager(Config{})
	got, err := m.RepoRoot(sub)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(root)
	gotEval, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, want, gotEval)

	base, err := m.BaseBranch(sub)
	require.NoError(t, err)
	assert.Equal(t, "main", base)

	assert.Equal(t, filepath.Join(root, ".git", "taskcore", "worktrees", "x"), m.Path(root, "x"))
	assert.Equal(t, "develop", mustBase(t, NewManager(Config{BaseBranch: "develop"}), sub))
}

func mustBase(t *testing.T, m *Manager, dir string) string {
	t.Helper()
	b, err := m.BaseBranch(dir)
	require.NoError(t, err)
	return b
}

func TestManager_NotRepository(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.Create(context.Background(), t.TempDir(), "t")
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestParseList(t *testing.T) {
	out := "worktree /repo\nHEAD abc\nbranch refs/heads/main\n\nworktree /wt/t1\nHEAD def\nbranch refs/heads/taskcore/t1\n"
	got, err := parseList(out)
	require.NoError(t, err)
	assert.Equal(t, []Info{{Path: "/repo", Branch: "main"}, {Path: "/wt/t1", Branch: "taskcore/t1"}}, got)
}
