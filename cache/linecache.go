// Package cache memoizes source files so stack frames can be annotated with
// the text of the line they point at.
package cache

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/samsarahq/go/oops"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	fingerprint string
	lines       []string
}

// LineCache is a concurrency-safe cache of source lines keyed by file path.
// The zero value is not usable; use New.
type LineCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	loads   singleflight.Group

	// HashFunc fingerprints a file. Entries whose fingerprint changed are reloaded.
	HashFunc func(path string) (string, error)
}

func New() *LineCache {
	return &LineCache{
		entries:  make(map[string]*entry),
		HashFunc: fingerprint,
	}
}

// Line returns line lineno (1-based) of the file at path, without its trailing
// newline. It returns "" if the file or line cannot be read.
func (c *LineCache) Line(path string, lineno int) string {
	lines, err := c.Lines(path)
	if err != nil || lineno < 1 || lineno > len(lines) {
		return ""
	}
	return lines[lineno-1]
}

// Lines returns all lines of the file at path, reading it at most once per
// fingerprint. Concurrent readers of the same file share one load.
func (c *LineCache) Lines(path string) ([]string, error) {
	fp, err := c.HashFunc(path)
	if err != nil {
		c.Forget(path)
		return nil, oops.Wrapf(err, "unable to stat %s", path)
	}

	c.mu.Lock()
	e, ok := c.entries[path]
	c.mu.Unlock()
	if ok && e.fingerprint == fp {
		return e.lines, nil
	}

	v, err, _ := c.loads.Do(path+"\x00"+fp, func() (interface{}, error) {
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[path] = &entry{fingerprint: fp, lines: lines}
		c.mu.Unlock()
		return lines, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Forget drops the cached lines of path.
func (c *LineCache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Clear drops every cached file.
func (c *LineCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oops.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, oops.Wrapf(err, "unable to read %s", path)
	}
	return lines, nil
}
