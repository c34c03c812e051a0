package collector

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
)

// maxScanBytes skips files too large to be source code worth pattern matching
const maxScanBytes = 1 << 20

// FileCache keeps file contents in memory so that several probes reading the
// same file within a run hit the disk once. Keys include size and mtime, so a
// changed file is never served stale.
type FileCache struct {
	c *ristretto.Cache[string, []byte]
}

// NewFileCache creates a cache holding at most maxCostBytes of file content.
func NewFileCache(maxCostBytes int64) (*FileCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create file cache: %w", err)
	}
	return &FileCache{c: c}, nil
}

// Read returns the file's contents. A nil cache reads straight from disk.
func (f *FileCache) Read(name string) ([]byte, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxScanBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", name, maxScanBytes)
	}
	if f == nil {
		return os.ReadFile(name)
	}

	key := fmt.Sprintf("%s|%d|%d", name, info.Size(), info.ModTime().UnixNano())
	if data, ok := f.c.Get(key); ok {
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	f.c.Set(key, data, int64(len(data))+1)
	return data, nil
}

// Close releases the cache.
func (f *FileCache) Close() {
	if f != nil {
		f.c.Close()
	}
}

// Glob returns the slash-separated paths under root matching pattern, sorted.
// Patterns use path.Match syntax plus a "**/" segment matching any number of
// directories. The .git directory is never descended into.
func Glob(root, pattern string) ([]string, error) {
	pattern = path.Clean(filepath.ToSlash(pattern))

	if !strings.ContainsAny(pattern, "*?[") {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil || info.IsDir() {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchGlob(pattern, rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	return matches, err
}

func matchGlob(pattern, name string) bool {
	idx := strings.Index(pattern, "**/")
	if idx < 0 {
		ok, _ := path.Match(pattern, name)
		return ok
	}

	prefix, rest := pattern[:idx], pattern[idx+3:]
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	tail := name[len(prefix):]
	for {
		if matchGlob(rest, tail) {
			return true
		}
		slash := strings.IndexByte(tail, '/')
		if slash < 0 {
			return false
		}
		tail = tail[slash+1:]
	}
}
