// Package planningcache memoizes per-task planned-file lists against a
// repository fingerprint, persisted as gzipped JSON.
package planningcache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/VX1D/ralphy/internal/jsonsafe"
)

const (
	cacheRelPath       = ".ralphy/planning-cache.json.gz"
	legacyCacheRelPath = ".ralphy/planning-cache.json"
)

// Entry is one cached planning result.
type Entry struct {
	Files          []string     `json:"files"`
	Timestamp      time.Time    `json:"timestamp"`
	RepoFingerprint *Fingerprint `json:"repoFingerprint"`
}

// Cache is the persisted set of planning entries for one workDir.
type Cache struct {
	Entries map[string]*Entry `json:"entries"`
}

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9:_-]+`)

// Sanitize builds the cache key "sanitize(taskId:title)" used to address an
// entry.
func Sanitize(taskID, title string) string {
	raw := taskID + ":" + title
	return sanitizeRe.ReplaceAllString(raw, "_")
}

func cachePath(workDir string) string      { return filepath.Join(workDir, cacheRelPath) }
func legacyCachePath(workDir string) string { return filepath.Join(workDir, legacyCacheRelPath) }

// Load reads the planning cache for workDir, preferring the gzip file and
// falling back to (then deleting) the legacy uncompressed file.
func Load(workDir string) (*Cache, error) {
	if data, err := readGzip(cachePath(workDir)); err == nil {
		return decodeCache(data)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if data, err := os.ReadFile(legacyCachePath(workDir)); err == nil {
		c, err := decodeCache(data)
		if err != nil {
			return nil, err
		}
		if err := Save(workDir, c); err != nil {
			return nil, fmt.Errorf("migrate legacy planning cache: %w", err)
		}
		_ = os.Remove(legacyCachePath(workDir))
		return c, nil
	}

	return &Cache{Entries: map[string]*Entry{}}, nil
}

func decodeCache(data []byte) (*Cache, error) {
	if err := jsonsafe.Check(data); err != nil {
		return nil, err
	}
	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse planning cache: %w", err)
	}
	if c.Entries == nil {
		c.Entries = map[string]*Entry{}
	}
	return &c, nil
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip planning cache: %w", err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// Save persists c as gzipped JSON to workDir's cache file, atomically.
func Save(workDir string, c *Cache) error {
	if err := os.MkdirAll(filepath.Dir(cachePath(workDir)), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal planning cache: %w", err)
	}

	var buf strings.Builder
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return fmt.Errorf("gzip planning cache: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	if err := renameio.WriteFile(cachePath(workDir), []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write planning cache: %w", err)
	}

	_ = os.Remove(legacyCachePath(workDir)) // backward-compat file is deleted on next save
	return nil
}

// Get returns the entry for (taskID, title) if present and still valid
// against the current repository fingerprint.
func (fp *Fingerprinter) Get(workDir, taskID, title string) (*Entry, bool, error) {
	c, err := Load(workDir)
	if err != nil {
		return nil, false, err
	}
	key := Sanitize(taskID, title)
	entry, ok := c.Entries[key]
	if !ok {
		return nil, false, nil
	}

	current, err := fp.Fingerprint(workDir)
	if err != nil {
		return nil, false, err
	}
	if !entry.RepoFingerprint.Equal(current) {
		return nil, false, nil
	}
	return entry, true, nil
}

// Put stores files as the planning result for (taskID, title), stamped with
// the current repository fingerprint.
func (fp *Fingerprinter) Put(workDir, taskID, title string, files []string) error {
	c, err := Load(workDir)
	if err != nil {
		return err
	}
	current, err := fp.Fingerprint(workDir)
	if err != nil {
		return err
	}

	key := Sanitize(taskID, title)
	c.Entries[key] = &Entry{
		Files:           files,
		Timestamp:       time.Now(),
		RepoFingerprint: current,
	}
	return Save(workDir, c)
}
