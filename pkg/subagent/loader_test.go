package subagent

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Layers(t *testing.T) {
	root := t.TempDir()
	global := filepath.Join(root, "global")
	project := filepath.Join(root, "proj")

	writeProfile(t, global, "shared.md", "---\ndescription: global version\n---\nG")
	writeProfile(t, global, "only-global.md", "---\ndescription: g\n---\nG")
	writeProfile(t, filepath.Join(project, DefaultProjectSubdir), "shared.md", "---\ndescription: project version\n---\nP")
	writeProfile(t, filepath.Join(project, DefaultProjectSubdir), "notes.txt", "ignored")

	l := &Loader{GlobalDir: global}
	set, errs := l.Load(project)
	require.Empty(t, errs)

	assert.Equal(t, "project version", set["shared"].Description)
	assert.Equal(t, SourceProject, set["shared"].Source)
	assert.Equal(t, SourceGlobal, set["only-global"].Source)
	assert.Equal(t, SourceBuiltin, set["general"].Source)
	assert.NotContains(t, set, "notes")
}

func TestLoader_ProjectOverridesBuiltin(t *testing.T) {
	project := t.TempDir()
	writeProfile(t, filepath.Join(project, DefaultProjectSubdir), "explore.md", "---\ndescription: mine\n---\nX")

	set, errs := (&Loader{}).Load(project)
	require.Empty(t, errs)
	assert.Equal(t, "mine", set["explore"].Description)
}

func TestLoader_ReportsBadFiles(t *testing.T) {
	project := t.TempDir()
	dir := filepath.Join(project, DefaultProjectSubdir)
	writeProfile(t, dir, "good.md", "---\ndescription: ok\n---\n")
	writeProfile(t, dir, "bad.md", "---\nname: no description\n---\n")

	set, errs := (&Loader{}).Load(project)
	assert.Len(t, errs, 1)
	assert.Contains(t, set, "good")
	assert.NotContains(t, set, "bad")
}

func TestLoader_MissingDirs(t *testing.T) {
	l := &Loader{GlobalDir: filepath.Join(t.TempDir(), "absent")}
	set, errs := l.Load(filepath.Join(t.TempDir(), "absent"))
	assert.Empty(t, errs)
	assert.Len(t, set, len(BuiltinProfiles()))
}

func TestProfiles_CacheAndReload(t *testing.T) {
	project := t.TempDir()
	dir := filepath.Join(project, DefaultProjectSubdir)
	writeProfile(t, dir, "a.md", "---\ndescription: first\n---\n")

	p := NewProfiles(&Loader{})
	got, ok := p.Get(project, "a")
	require.True(t, ok)
	assert.Equal(t, "first", got.Description)

	writeProfile(t, dir, "a.md", "---\ndescription: second\n---\n")
	got, _ = p.Get(project, "a")
	assert.Equal(t, "first", got.Description, "cached until reload")

	p.Reload()
	got, _ = p.Get(project, "a")
	assert.Equal(t, "second", got.Description)
	assert.Equal(t, []string{project}, p.Projects())
}

func TestProfiles_ListSorted(t *testing.T) {
	project := t.TempDir()
	writeProfile(t, filepath.Join(project, DefaultProjectSubdir), "zeta.md", "---\ndescription: z\n---\n")

	list := NewProfiles(&Loader{}).List(project)
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
	assert.Equal(t, "zeta", list[len(list)-1].ID)
}
