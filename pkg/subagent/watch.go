package subagent

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads profiles when profile files under the global directory or
// any of projectDirs change. A profile directory that does not exist yet
// is picked up once its parent is created. Watch blocks until ctx is done.
func (p *Profiles) Watch(ctx context.Context, projectDirs ...string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dirs := make(map[string]bool)
	if p.loader.GlobalDir != "" {
		dirs[filepath.Clean(p.loader.GlobalDir)] = true
	}
	for _, dir := range projectDirs {
		dirs[filepath.Clean(p.loader.ProjectDir(dir))] = true
	}
	for dir := range dirs {
		if fw.Add(dir) != nil {
			// Watch the parent so creation of dir is noticed.
			_ = fw.Add(filepath.Dir(dir))
		}
	}

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if dirs[filepath.Clean(ev.Name)] && ev.Has(fsnotify.Create) {
				_ = fw.Add(ev.Name)
				timer.Reset(watchDebounce)
				continue
			}
			if filepath.Ext(ev.Name) != ".md" || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(watchDebounce)
		case <-timer.C:
			p.Reload()
		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		}
	}
}
