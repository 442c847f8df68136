package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	journalQueue = 256
	lockTimeout  = 5 * time.Second
	lockRetry    = 50 * time.Millisecond
)

type journalOp struct {
	path    string
	data    []byte
	replace bool
	release bool
	done    chan error
}

// journal owns every open message log. A single goroutine applies queued
// operations in order; appends to the same log that are queued together
// land in one locked write.
type journal struct {
	ops      chan journalOp
	stopped  chan struct{}
	files    map[string]*os.File
	closeErr error
}

func newJournal() *journal {
	j := &journal{
		ops:     make(chan journalOp, journalQueue),
		stopped: make(chan struct{}),
		files:   make(map[string]*os.File),
	}
	go j.loop()
	return j
}

func (j *journal) loop() {
	defer close(j.stopped)
	var batch []journalOp
	for op := range j.ops {
		batch = append(batch[:0], op)
	drain:
		for {
			select {
			case next, ok := <-j.ops:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		j.apply(batch)
	}
	for path, f := range j.files {
		j.closeErr = errors.Join(j.closeErr, f.Close())
		delete(j.files, path)
	}
}

// apply runs ops in order, merging runs of appends to one path.
func (j *journal) apply(ops []journalOp) {
	for i := 0; i < len(ops); {
		op := ops[i]
		switch {
		case op.release:
			j.closeFile(op.path)
			op.done <- nil
			i++
		case op.replace:
			op.done <- j.replace(op.path, op.data)
			i++
		default:
			end := i + 1
			var buf bytes.Buffer
			buf.Write(op.data)
			for end < len(ops) && ops[end].path == op.path && !ops[end].replace && !ops[end].release {
				buf.Write(ops[end].data)
				end++
			}
			err := j.append(op.path, buf.Bytes())
			for _, o := range ops[i:end] {
				o.done <- err
			}
			i = end
		}
	}
}

// lockLog takes the cross-process lock guarding a message log.
func lockLog(path string) (*flock.Flock, error) {
	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if ok, err := fl.TryLockContext(ctx, lockRetry); err != nil || !ok {
		return nil, ErrLockTimeout
	}
	return fl, nil
}

func (j *journal) append(path string, data []byte) error {
	f, ok := j.files[path]
	if !ok {
		var err error
		if f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			return err
		}
		j.files[path] = f
	}
	fl, err := lockLog(path)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	_, err = f.Write(data)
	return err
}

// replace swaps the log content through a rename. The cached handle is
// dropped so the next append opens the new file.
func (j *journal) replace(path string, data []byte) error {
	j.closeFile(path)
	fl, err := lockLog(path)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (j *journal) closeFile(path string) {
	if f, ok := j.files[path]; ok {
		f.Close()
		delete(j.files, path)
	}
}

func (j *journal) submit(op journalOp) error {
	op.done = make(chan error, 1)
	j.ops <- op
	return <-op.done
}

// Append adds data to the end of the log at path.
func (j *journal) Append(path string, data []byte) error {
	return j.submit(journalOp{path: path, data: data})
}

// Replace rewrites the log at path atomically.
func (j *journal) Replace(path string, data []byte) error {
	return j.submit(journalOp{path: path, data: data, replace: true})
}

// Release closes the handle for path once earlier operations have landed.
func (j *journal) Release(path string) {
	_ = j.submit(journalOp{path: path, release: true})
}

// Close applies what is queued and closes all logs.
func (j *journal) Close() error {
	close(j.ops)
	<-j.stopped
	return j.closeErr
}
