package planningcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-set/v3"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// keyFiles is the fixed set of manifest files consulted when fingerprinting
// a repository.
var keyFiles = []string{
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"go.mod",
	"requirements.txt",
	"pnpm-lock.yaml",
	"package-lock.json",
	"yarn.lock",
}

// FileState is one key file's memoized state.
type FileState struct {
	Mtime time.Time `json:"mtime"`
	Size  int64     `json:"size"`
	Hash  string     `json:"hash"`
}

// Fingerprint summarizes a repository's manifest files and top-level
// directory layout.
type Fingerprint struct {
	FileStates map[string]FileState `json:"fileStates"`
	DirHash    string               `json:"dirHash"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Equal reports whether two fingerprints describe the same repository
// state (the only field that matters for cache validity is DirHash, which
// incorporates both the key-file hashes and the top-level directory set).
func (f *Fingerprint) Equal(other *Fingerprint) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.DirHash == other.DirHash
}

type fileStateCacheKey struct {
	path  string
	mtime time.Time
	size  int64
}

// Fingerprinter computes and memoizes repository fingerprints.
type Fingerprinter struct {
	// per-workDir fingerprint cache, 60s TTL.
	cache *lru.LRU[string, *Fingerprint]
	// per-(path,mtime,size) content-hash memoization, avoids rehashing an
	// unchanged key file across calls within the TTL window.
	hashCache *lru.LRU[fileStateCacheKey, string]
}

// NewFingerprinter constructs a Fingerprinter with a 60s fingerprint TTL.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{
		cache:     lru.NewLRU[string, *Fingerprint](256, nil, 60*time.Second),
		hashCache: lru.NewLRU[fileStateCacheKey, string](4096, nil, time.Hour),
	}
}

// Fingerprint computes (or returns the memoized) fingerprint for workDir.
func (fp *Fingerprinter) Fingerprint(workDir string) (*Fingerprint, error) {
	if cached, ok := fp.cache.Get(workDir); ok {
		return cached, nil
	}

	fileStates := map[string]FileState{}
	for _, name := range keyFiles {
		path := filepath.Join(workDir, name)
		st, err := os.Stat(path)
		if err != nil {
			continue // manifest not present in this repo; simply omitted
		}
		hash, err := fp.hashFile(path, st.ModTime(), st.Size())
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", name, err)
		}
		fileStates[name] = FileState{Mtime: st.ModTime(), Size: st.Size(), Hash: hash}
	}

	dirs, err := topLevelDirs(workDir)
	if err != nil {
		return nil, fmt.Errorf("list top-level dirs: %w", err)
	}

	f := &Fingerprint{
		FileStates: fileStates,
		DirHash:    computeDirHash(fileStates, dirs),
		Timestamp:  time.Now(),
	}
	fp.cache.Add(workDir, f)
	return f, nil
}

func (fp *Fingerprinter) hashFile(path string, mtime time.Time, size int64) (string, error) {
	key := fileStateCacheKey{path: path, mtime: mtime, size: size}
	if h, ok := fp.hashCache.Get(key); ok {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])
	fp.hashCache.Add(key, h)
	return h, nil
}

// topLevelDirs lists the immediate, non-hidden subdirectories of workDir.
// Dot-directories (.git, .ralphy, ...) are excluded: the kernel itself
// writes to .ralphy, and including it would make every fingerprint
// self-invalidating.
func topLevelDirs(workDir string) ([]string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := set.New[string](len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names.Insert(e.Name())
		}
	}
	dirs := names.Slice()
	sort.Strings(dirs)
	return dirs, nil
}

func computeDirHash(fileStates map[string]FileState, dirs []string) string {
	entries := make([]string, 0, len(fileStates)+len(dirs))
	for name, fs := range fileStates {
		entries = append(entries, fmt.Sprintf("file:%s:%s", name, fs.Hash))
	}
	for _, d := range dirs {
		entries = append(entries, fmt.Sprintf("dir:%s", d))
	}
	sort.Strings(entries)

	h := sha256.New()
	h.Write([]byte(strings.Join(entries, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
