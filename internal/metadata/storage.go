// Package metadata stores the sidecar records kept next to downloaded
// archives in the cache directory. A record remembers the validators the
// mirror sent (Last-Modified, ETag) so the next download can be conditional.
//
// Records are YAML files named after the cached file plus ".meta":
//
//	/var/cache/kiln/stage3-amd64-openrc-20250105T170325Z.tar.xz
//	/var/cache/kiln/stage3-amd64-openrc-20250105T170325Z.tar.xz.meta
package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/loader"
)

// Suffix is appended to a cached file's path to name its record.
const Suffix = ".meta"

// Record describes one cached download.
type Record struct {
	URL          string    `json:"url" yaml:"url"`
	LastModified string    `json:"lastModified,omitempty" yaml:"last_modified,omitempty"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt" yaml:"fetched_at"`
	Size         int64     `json:"size" yaml:"size"`
}

// PathFor returns the record path of cacheFile.
func PathFor(cacheFile string) string {
	return cacheFile + Suffix
}

// Store writes the record of cacheFile. The write goes through a temporary
// file so a crash never leaves a truncated record.
func Store(cacheFile string, rec *Record) error {
	tmp := PathFor(cacheFile) + ".tmp"
	if err := loader.SaveToFile(rec, tmp, 0644); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}
	if err := os.Rename(tmp, PathFor(cacheFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to store cache record: %w", err)
	}

	return nil
}

// Load returns the record of cacheFile, or nil when there is none. A record
// whose cached file is gone is deleted and treated as absent.
func Load(cacheFile string) (*Record, error) {
	data, err := os.ReadFile(PathFor(cacheFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}

	if _, err := os.Stat(cacheFile); errors.Is(err, fs.ErrNotExist) {
		if err := Delete(cacheFile); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse cache record %s: %w", PathFor(cacheFile), err)
	}

	return &rec, nil
}

// Delete removes the record of cacheFile if present.
func Delete(cacheFile string) error {
	if err := os.Remove(PathFor(cacheFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache record: %w", err)
	}
	return nil
}

// Exists reports whether cacheFile has a record.
func Exists(cacheFile string) bool {
	_, err := os.Stat(PathFor(cacheFile))
	return err == nil
}

// Entry is one cached file as reported by List.
type Entry struct {
	File   string  `json:"file" yaml:"file"`
	Size   int64   `json:"size" yaml:"size"`
	Record *Record `json:"record,omitempty" yaml:"record,omitempty"` // nil when the file has no record
}

// List returns the cached files in dir sorted by name. Records, temporary
// files and partial downloads are not listed on their own.
func List(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory %s: %w", dir, err)
	}

	var entries []Entry
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasSuffix(name, Suffix) || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
			continue
		}

		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}

		path := filepath.Join(dir, name)
		rec, err := Load(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{File: path, Size: info.Size(), Record: rec})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].File < entries[j].File })
	return entries, nil
}
