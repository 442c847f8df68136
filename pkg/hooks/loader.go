package hooks

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DefaultProjectSubdir is where a project keeps its hook scripts.
const DefaultProjectSubdir = ".taskcore/hooks"

// Loader builds registries from hook directories.
type Loader struct {
	// GlobalDir holds hook scripts applied to every project.
	GlobalDir string
	// ProjectSubdir is joined to each project directory.
	ProjectSubdir string
	// Static handlers come first in the global chain, e.g. command hooks
	// from configuration.
	Static []Handler
}

// ProjectHookDir returns the hook directory of a project.
func (l *Loader) ProjectHookDir(projectDir string) string {
	sub := l.ProjectSubdir
	if sub == "" {
		sub = DefaultProjectSubdir
	}
	return filepath.Join(projectDir, sub)
}

// LoadDir loads every *.lua file in dir in lexical order. A missing
// directory yields no handlers and no errors.
func (l *Loader) LoadDir(dir string) ([]Handler, LoadReport) {
	var report LoadReport
	if dir == "" {
		return nil, report
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			report.Errors = append(report.Errors, FileError{Path: dir, Err: err})
		}
		return nil, report
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lua" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var handlers []Handler
	for _, name := range names {
		path := filepath.Join(dir, name)
		h, err := LoadLuaHandler(path)
		if err != nil {
			report.Errors = append(report.Errors, FileError{Path: path, Err: err})
			continue
		}
		handlers = append(handlers, h)
		report.Loaded = append(report.Loaded, path)
	}
	return handlers, report
}

// Load builds a full registry for the given projects.
func (l *Loader) Load(projects []string) (*Registry, LoadReport) {
	global, report := l.LoadDir(l.GlobalDir)
	global = append(append([]Handler(nil), l.Static...), global...)

	project := make(map[string][]Handler, len(projects))
	for _, p := range projects {
		hs, r := l.LoadDir(l.ProjectHookDir(p))
		report.merge(r)
		if len(hs) > 0 {
			project[p] = hs
		}
	}
	return NewRegistry(global, project), report
}

// closeRegistry releases script states owned by a replaced registry.
func closeRegistry(reg *Registry) {
	if reg == nil {
		return
	}
	closeAll := func(hs []Handler) {
		for _, h := range hs {
			if lh, ok := h.(*LuaHandler); ok {
				lh.Close()
			}
		}
	}
	closeAll(reg.global)
	for _, hs := range reg.project {
		closeAll(hs)
	}
}
