// Package hashstore is the per-task, content-addressed, gzip-compressed
// file cache keyed by SHA-256, with a global GC sweep. Deduplication works
// within one task's content directory; the stores of other tasks are not
// probed.
package hashstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"

	"github.com/VX1D/ralphy/internal/jsonsafe"
)

const (
	gzipThreshold = 1024 // bytes; files smaller are stored uncompressed
	gzipLevel     = 6
	pipelineTimeout = 30 * time.Second
	indexFileName = ".ralphy-hashes-ref.json"
	storeDirName  = ".ralphy-hashes"
)

// Metadata describes one stored file.
type Metadata struct {
	OriginalPath string    `json:"originalPath"`
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	Mtime        time.Time `json:"mtime"`
	Compressed   bool      `json:"compressed"`
	OriginalSize int64     `json:"originalSize"`
	StoredAt     time.Time `json:"storedAt"`
	TaskID       string    `json:"taskId"`
}

// FileEntry is one entry in a task's index.
type FileEntry struct {
	Hash         string `json:"hash"`
	HashPath     string `json:"hashPath"`
	MetadataPath string `json:"metadataPath"`
}

// Index is the per-task logical-path -> stored-file map.
type Index struct {
	TaskID    string               `json:"taskId"`
	Files     map[string]FileEntry `json:"files"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Stats summarizes one task's stored content.
type Stats struct {
	TotalFiles       int
	TotalOriginalSize int64
	TotalCompressedSize int64
	DedupRatio       float64
}

// Store is the per-task content-addressed cache.
type Store struct {
	root   string // <projectRoot>/.ralphy-hashes
	taskID string
	dir    string // <root>/<taskID>
	logger hclog.Logger
}

// Open returns a Store rooted at projectRoot for taskID, creating its
// directories if needed.
func Open(projectRoot, taskID string, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	root := filepath.Join(projectRoot, storeDirName)
	dir := filepath.Join(root, taskID)
	if err := os.MkdirAll(filepath.Join(dir, "content"), 0o755); err != nil {
		return nil, fmt.Errorf("create hash store dir: %w", err)
	}
	return &Store{root: root, taskID: taskID, dir: dir, logger: logger.Named("hashstore")}, nil
}

func (s *Store) contentPath(hash string, compressed bool) string {
	name := hash
	if compressed {
		name += ".gz"
	}
	return filepath.Join(s.dir, "content", name)
}

func (s *Store) metadataPath(hash string) string {
	return filepath.Join(s.dir, "content", hash+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Store) loadIndex() (*Index, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			now := time.Now()
			return &Index{TaskID: s.taskID, Files: map[string]FileEntry{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	if err := jsonsafe.Check(data); err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if idx.Files == nil {
		idx.Files = map[string]FileEntry{}
	}
	return &idx, nil
}

func (s *Store) saveIndex(idx *Index) error {
	idx.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return os.WriteFile(s.indexPath(), data, 0o644)
}

// hashPath computes the SHA-256 of the file at path: it reads the whole
// file into memory if its size is <= 2MiB, otherwise it streams the read
// through the hasher without buffering the content.
func hashPath(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	if st.Size() <= 2<<20 {
		data, err := io.ReadAll(f)
		if err != nil {
			return "", 0, err
		}
		h.Write(data)
	} else if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), st.Size(), nil
}

// AddFile adds the file at sourcePath to the store under the logical
// relativePath. If content with the same hash already exists on disk, the
// write is skipped (deduplication), but the index and metadata are still
// updated for this task.
func (s *Store) AddFile(relativePath, sourcePath string) (*Metadata, error) {
	hash, size, err := hashPath(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", sourcePath, err)
	}

	st, err := os.Stat(sourcePath)
	if err != nil {
		return nil, err
	}

	compress := size >= gzipThreshold
	cpath := s.contentPath(hash, compress)

	if _, err := os.Stat(cpath); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := s.writeContent(sourcePath, cpath, compress); err != nil {
			return nil, err
		}
	} // else: already present, dedup skip

	meta := &Metadata{
		OriginalPath: relativePath,
		Hash:         hash,
		Size:         size,
		Mtime:        st.ModTime(),
		Compressed:   compress,
		OriginalSize: size,
		StoredAt:     time.Now(),
		TaskID:       s.taskID,
	}
	mdata, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(hash), mdata, 0o644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	idx.Files[relativePath] = FileEntry{
		Hash:         hash,
		HashPath:     cpath,
		MetadataPath: s.metadataPath(hash),
	}
	if err := s.saveIndex(idx); err != nil {
		return nil, err
	}

	return meta, nil
}

func (s *Store) writeContent(sourcePath, destPath string, compress bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.writeContentNow(sourcePath, destPath, compress)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("gzip pipeline timed out after %s", pipelineTimeout)
	}
}

func (s *Store) writeContentNow(sourcePath, destPath string, compress bool) error {
	in, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if !compress {
		_, err = io.Copy(out, in)
		return err
	}

	gw, err := gzip.NewWriterLevel(out, gzipLevel)
	if err != nil {
		return err
	}
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

// Has reports whether relativePath is tracked in this task's index.
func (s *Store) Has(relativePath string) (bool, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return false, err
	}
	_, ok := idx.Files[relativePath]
	return ok, nil
}

// GetHash returns the stored hash for relativePath, if any.
func (s *Store) GetHash(relativePath string) (string, bool, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return "", false, err
	}
	entry, ok := idx.Files[relativePath]
	if !ok {
		return "", false, nil
	}
	return entry.Hash, true, nil
}

// HasChanged recomputes the hash of the file currently at sourcePath and
// compares it against the stored hash for relativePath.
func (s *Store) HasChanged(relativePath, sourcePath string) (bool, error) {
	stored, ok, err := s.GetHash(relativePath)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	current, _, err := hashPath(sourcePath)
	if err != nil {
		return false, err
	}
	return current != stored, nil
}

// Get loads the content and metadata for relativePath.
func (s *Store) Get(relativePath string) ([]byte, *Metadata, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, nil, err
	}
	entry, ok := idx.Files[relativePath]
	if !ok {
		return nil, nil, fmt.Errorf("no stored entry for %s", relativePath)
	}

	mdata, err := os.ReadFile(entry.MetadataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read metadata: %w", err)
	}
	if err := jsonsafe.Check(mdata); err != nil {
		return nil, nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(mdata, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse metadata: %w", err)
	}

	content, err := s.readContent(entry.HashPath, meta.Compressed)
	if err != nil {
		return nil, nil, err
	}
	return content, &meta, nil
}

func (s *Store) readContent(path string, compressed bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := s.readContentNow(path, compressed)
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("gunzip pipeline timed out after %s", pipelineTimeout)
	}
}

func (s *Store) readContentNow(path string, compressed bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !compressed {
		return io.ReadAll(f)
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// Stats reports this task's dedup ratio and size totals.
func (s *Store) Stats() (*Stats, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	unique := map[string]bool{}
	var originalTotal, compressedTotal int64
	for _, entry := range idx.Files {
		unique[entry.Hash] = true
		if st, err := os.Stat(entry.HashPath); err == nil {
			compressedTotal += st.Size()
		}
		mdata, err := os.ReadFile(entry.MetadataPath)
		if err == nil && jsonsafe.Check(mdata) == nil {
			var meta Metadata
			if json.Unmarshal(mdata, &meta) == nil {
				originalTotal += meta.OriginalSize
			}
		}
	}
	stats := &Stats{
		TotalFiles:          len(idx.Files),
		TotalOriginalSize:   originalTotal,
		TotalCompressedSize: compressedTotal,
	}
	if stats.TotalFiles > 0 {
		stats.DedupRatio = 1 - float64(len(unique))/float64(stats.TotalFiles)
	}
	s.logger.Debug("hash store stats",
		"task_id", s.taskID,
		"files", stats.TotalFiles,
		"original_size", humanize.Bytes(uint64(originalTotal)),
		"compressed_size", humanize.Bytes(uint64(compressedTotal)),
		"dedup_ratio", stats.DedupRatio,
	)
	return stats, nil
}

// Cleanup removes this task's entire store directory.
func (s *Store) Cleanup() error {
	return os.RemoveAll(s.dir)
}

// GC walks <projectRoot>/.ralphy-hashes/*, reads each index's updatedAt, and
// removes task directories older than maxAge (default 24h if maxAge <= 0).
func GC(projectRoot string, maxAge time.Duration, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	root := filepath.Join(projectRoot, storeDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read hash store root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var result *multierror.Error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		taskDir := filepath.Join(root, e.Name())
		indexPath := filepath.Join(taskDir, indexFileName)
		data, err := os.ReadFile(indexPath)
		if err != nil {
			continue // no index: leave it, not this GC's concern
		}
		if jsonsafe.Check(data) != nil {
			continue
		}
		var idx Index
		if err := json.Unmarshal(data, &idx); err != nil {
			continue
		}
		if idx.UpdatedAt.Before(cutoff) {
			logger.Debug("hash store gc removing stale task", "task_id", e.Name(), "updated_at", idx.UpdatedAt)
			if err := os.RemoveAll(taskDir); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
