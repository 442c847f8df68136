package subagent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultProjectSubdir is where a project keeps its profiles.
const DefaultProjectSubdir = ".taskcore/agents"

// Loader discovers profile files.
type Loader struct {
	GlobalDir     string
	ProjectSubdir string
}

// ProjectDir returns the profile directory of a project.
func (l *Loader) ProjectDir(projectDir string) string {
	sub := l.ProjectSubdir
	if sub == "" {
		sub = DefaultProjectSubdir
	}
	return filepath.Join(projectDir, sub)
}

// Load layers builtin profiles, global files and the project's files. A
// later layer overrides an earlier one with the same id. Unparseable files
// are reported and skipped.
func (l *Loader) Load(projectDir string) (map[string]Profile, []error) {
	result := BuiltinProfiles()
	var errs []error

	global, e := scanDir(l.GlobalDir, SourceGlobal)
	errs = append(errs, e...)
	for id, p := range global {
		result[id] = p
	}

	if projectDir != "" {
		project, e := scanDir(l.ProjectDir(projectDir), SourceProject)
		errs = append(errs, e...)
		for id, p := range project {
			result[id] = p
		}
	}
	return result, errs
}

// scanDir reads all .md files from a directory. A missing directory is
// not an error.
func scanDir(dir string, source ProfileSource) (map[string]Profile, []error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{err}
	}

	result := make(map[string]Profile)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		p, err := ParseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Source = source
		result[p.ID] = *p
	}
	return result, errs
}

// Profiles caches loaded profiles per project.
type Profiles struct {
	loader *Loader

	mu    sync.RWMutex
	cache map[string]map[string]Profile
}

// NewProfiles creates a registry backed by loader.
func NewProfiles(loader *Loader) *Profiles {
	return &Profiles{loader: loader, cache: make(map[string]map[string]Profile)}
}

func (p *Profiles) forProject(projectDir string) map[string]Profile {
	p.mu.RLock()
	set, ok := p.cache[projectDir]
	p.mu.RUnlock()
	if ok {
		return set
	}

	set, _ = p.loader.Load(projectDir)
	p.mu.Lock()
	p.cache[projectDir] = set
	p.mu.Unlock()
	return set
}

// Get returns the profile with id as seen from projectDir.
func (p *Profiles) Get(projectDir, id string) (Profile, bool) {
	prof, ok := p.forProject(projectDir)[id]
	return prof, ok
}

// List returns the profiles visible from projectDir sorted by id.
func (p *Profiles) List(projectDir string) []Profile {
	set := p.forProject(projectDir)
	out := make([]Profile, 0, len(set))
	for _, prof := range set {
		out = append(out, prof)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reload drops cached profiles. Running children keep the profile they
// started with; new delegations read the files again.
func (p *Profiles) Reload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]map[string]Profile)
}

// Projects returns the project directories currently cached.
func (p *Profiles) Projects() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.cache))
	for dir := range p.cache {
		out = append(out, dir)
	}
	return out
}
