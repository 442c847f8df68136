package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// PruneStats reports the outcome of a prune run.
type PruneStats struct {
	TasksDeleted int
	BytesFreed   int64
}

// Prune deletes tasks whose metadata was last updated before now minus
// retention. Directories without readable metadata fall back to their
// modification time. keep lists task ids that must survive, e.g. live ones.
func (s *Store) Prune(retention time.Duration, keep map[string]bool) (PruneStats, error) {
	var stats PruneStats
	cutoff := time.Now().Add(-retention)

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, err
	}

	for _, e := range entries {
		if !e.IsDir() || keep[e.Name()] {
			continue
		}
		dir := filepath.Join(s.baseDir, e.Name())

		var lastActive time.Time
		if meta, err := loadMeta(dir); err == nil {
			lastActive = meta.UpdatedAt
		} else if info, err := e.Info(); err == nil {
			lastActive = info.ModTime()
		} else {
			continue
		}
		if !lastActive.Before(cutoff) {
			continue
		}

		size := dirSize(dir)
		if err := s.Delete(e.Name()); err == nil {
			stats.TasksDeleted++
			stats.BytesFreed += size
		}
	}
	return stats, nil
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}
