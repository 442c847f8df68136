package connector

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"
)

// ReadInputHistory parses a prompt history file as the subprocess writes
// it: entries start with a "# <timestamp>" line and every line of the
// prompt is prefixed with "+". Entries are returned newest first. A
// missing file yields no entries.
func ReadInputHistory(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var (
		entries []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			entries = append(entries, strings.Join(current, "\n"))
			current = nil
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "#"):
			flush()
		case strings.HasPrefix(line, "+"):
			current = append(current, line[1:])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	slices.Reverse(entries)
	return entries, nil
}
