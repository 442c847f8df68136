// Package store persists tasks: one directory per task holding its
// metadata and an append-only message log.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jg-phare/taskcore/pkg/types"
)

// Record is a fully loaded task.
type Record struct {
	Meta     types.TaskMeta
	Messages []types.ContextMessage
}

// Store is a file-based task store rooted at a directory.
type Store struct {
	baseDir string
	journal *journal

	mu     sync.RWMutex
	closed bool
}

// New creates a store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, journal: newJournal()}
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

func (s *Store) taskDir(taskID string) string {
	return filepath.Join(s.baseDir, taskID)
}

func (s *Store) messagesPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), messagesFile)
}

// acquire guards against use after Close. Callers must release.
func (s *Store) acquire() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

// Create persists a new task record.
func (s *Store) Create(meta types.TaskMeta) error {
	if meta.ID == "" {
		return ErrInvalidID
	}
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	dir := s.taskDir(meta.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrRecordExists, meta.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	return saveMeta(dir, meta)
}

// Exists reports whether a record is stored for taskID.
func (s *Store) Exists(taskID string) bool {
	_, err := os.Stat(filepath.Join(s.taskDir(taskID), metaFile))
	return err == nil
}

// Load reads a task's metadata and replays its message log.
func (s *Store) Load(taskID string) (*Record, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	dir := s.taskDir(taskID)
	meta, err := loadMeta(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, taskID)
		}
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	msgs, err := replay(s.messagesPath(taskID))
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return &Record{Meta: meta, Messages: msgs}, nil
}

// LoadMeta reads only the metadata.
func (s *Store) LoadMeta(taskID string) (types.TaskMeta, error) {
	meta, err := loadMeta(s.taskDir(taskID))
	if errors.Is(err, fs.ErrNotExist) {
		return meta, fmt.Errorf("%w: %s", ErrRecordNotFound, taskID)
	}
	return meta, err
}

// SaveMeta replaces the stored metadata.
func (s *Store) SaveMeta(meta types.TaskMeta) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	dir := s.taskDir(meta.ID)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, meta.ID)
	}
	return saveMeta(dir, meta)
}

// PutMessage appends or replaces a message. It returns once the write is
// on disk.
func (s *Store) PutMessage(taskID string, msg types.ContextMessage) error {
	return s.append(taskID, entry{Op: OpPut, Message: &msg})
}

// RemoveMessages records the removal of ids.
func (s *Store) RemoveMessages(taskID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.append(taskID, entry{Op: OpRemove, IDs: ids})
}

// Clear records that the history was emptied.
func (s *Store) Clear(taskID string) error {
	return s.append(taskID, entry{Op: OpClear})
}

func (s *Store) append(taskID string, e entry) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.taskDir(taskID)); err != nil {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, taskID)
	}
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return s.journal.Append(s.messagesPath(taskID), data)
}

// Compact rewrites the log as one put per message in msgs.
func (s *Store) Compact(taskID string, msgs []types.ContextMessage) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(s.taskDir(taskID)); err != nil {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, taskID)
	}
	data, err := encodeSnapshot(msgs)
	if err != nil {
		return err
	}
	return s.journal.Replace(s.messagesPath(taskID), data)
}

// Copy duplicates a record under a new id with the given metadata.
func (s *Store) Copy(srcID string, meta types.TaskMeta) (*Record, error) {
	src, err := s.Load(srcID)
	if err != nil {
		return nil, err
	}
	if err := s.Create(meta); err != nil {
		return nil, err
	}
	if err := s.Compact(meta.ID, src.Messages); err != nil {
		return nil, err
	}
	return &Record{Meta: meta, Messages: src.Messages}, nil
}

// Delete removes a task and all its files.
func (s *Store) Delete(taskID string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	dir := s.taskDir(taskID)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, taskID)
	}
	s.journal.Release(s.messagesPath(taskID))
	return os.RemoveAll(dir)
}

// List returns metadata for all tasks, most recently updated first.
// Unreadable records are skipped.
func (s *Store) List() ([]types.TaskMeta, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var metas []types.TaskMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := loadMeta(filepath.Join(s.baseDir, e.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Close flushes pending writes. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.journal.Close()
}

func saveMeta(dir string, meta types.TaskMeta) error {
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now()
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metaFile))
}

func loadMeta(dir string) (types.TaskMeta, error) {
	var meta types.TaskMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}
