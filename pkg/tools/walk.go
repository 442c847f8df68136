package tools

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// skipDirs are never descended into by the search tools.
var skipDirs = map[string]bool{
	".git":         true,
	".taskcore":    true,
	"node_modules": true,
}

// walkFiles calls fn for every regular file under root whose path relative
// to root matches pattern. An empty pattern matches everything; a pattern
// without a slash is matched against the base name too, so "*.go" finds
// files at any depth. Walking stops early when fn returns fs.SkipAll.
func walkFiles(ctx context.Context, root, pattern string, fn func(path, rel string) error) error {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return doublestar.ErrBadPattern
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if pattern != "" && !matchPath(pattern, rel) {
			return nil
		}
		return fn(path, rel)
	})
}

func matchPath(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, filepath.Base(rel))
		return ok
	}
	return false
}

// isBinary reports whether the file looks like binary data, judged by a NUL
// byte in its first 8000 bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	buf := make([]byte, 8000)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}
