// Package lockmanager implements per-file advisory locks backed by
// exclusively-created lock files on disk, with an in-memory fast path,
// staleness eviction, re-entrant ownership, and all-or-nothing multi-file
// acquisition.
package lockmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"

	"github.com/VX1D/ralphy/internal/jsonsafe"
)

const (
	lockSubdir          = ".ralphy/locks"
	defaultMaxRetries   = 5
	defaultLockTimeout  = 30 * time.Second
	cleanupInterval     = 60 * time.Second
	maxBackoff          = 5 * time.Second
	registryCeiling     = 5000
)

// LockInfo is the payload persisted in each lock file and mirrored in the
// in-memory registry.
type LockInfo struct {
	Timestamp    int64         `json:"timestamp"` // unix millis
	Timeout      time.Duration `json:"timeout"`
	Owner        string        `json:"owner"`
	RefreshCount int           `json:"refreshCount"`
}

func (l *LockInfo) live(now time.Time) bool {
	expires := time.UnixMilli(l.Timestamp).Add(l.Timeout)
	return now.Before(expires)
}

// processStart is recorded once per process and combined with the pid to
// form this process's lock owner id.
var processStart = time.Now().UnixNano()

// Owner returns this process's lock-owner identity: "<pid>-<processStart>".
func Owner() string {
	return fmt.Sprintf("%d-%d", os.Getpid(), processStart)
}

type heldLock struct {
	info *LockInfo
}

// Manager is the in-memory + on-disk lock authority for one process. It is
// safe for concurrent use.
type Manager struct {
	logger hclog.Logger

	mu    sync.Mutex
	locks map[string]*heldLock

	lastCleanup time.Time
}

// New constructs a Manager. logger may be nil.
func New(logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		logger: logger.Named("lockmanager"),
		locks:  make(map[string]*heldLock),
	}
}

// Normalize returns the logical lock name for path: its normalized absolute
// form, lowercased on Windows.
func Normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.Clean(abs)
	if runtime.GOOS == "windows" {
		abs = strings.ToLower(abs)
	}
	return abs
}

func hashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

func lockFilePath(workDir, name string) string {
	return filepath.Join(workDir, lockSubdir, hashName(name)+".lock")
}

// Acquire attempts to acquire the lock for path within workDir, retrying up
// to maxRetries times with exponential backoff. If maxRetries <= 0, the
// default of 5 is used. reentrant permits the same owner to re-enter and
// refresh a lock it already holds.
func (m *Manager) Acquire(path, workDir string, maxRetries int, reentrant bool) (bool, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	name := Normalize(path)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		m.maybeCleanup(workDir)

		ok, shouldRetryNow, err := m.tryAcquireOnce(name, workDir, reentrant)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if shouldRetryNow {
			// Stale file was just unlinked; retry without consuming an
			// attempt or sleeping.
			attempt--
			continue
		}
		if attempt == maxRetries {
			break
		}
		sleepBackoff(attempt)
	}
	return false, nil
}

func sleepBackoff(attempt int) {
	backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	jitter := time.Duration(rand.Intn(50)) * time.Millisecond
	d := backoff + jitter
	if d > maxBackoff {
		d = maxBackoff
	}
	time.Sleep(d)
}

// tryAcquireOnce implements one pass of the acquisition algorithm.
// shouldRetryNow is true when a stale on-disk file was unlinked and the
// caller should immediately retry without sleeping or consuming an
// attempt.
func (m *Manager) tryAcquireOnce(name, workDir string, reentrant bool) (acquired, shouldRetryNow bool, err error) {
	m.mu.Lock()
	if existing, ok := m.locks[name]; ok {
		now := time.Now()
		if existing.info.live(now) {
			if existing.info.Owner == Owner() && reentrant {
				existing.info.Timestamp = now.UnixMilli()
				existing.info.RefreshCount++
				if err := m.persistLocked(workDir, name, existing.info); err != nil {
					m.mu.Unlock()
					return false, false, err
				}
				m.mu.Unlock()
				return true, false, nil
			}
			m.mu.Unlock()
			return false, false, nil
		}
		delete(m.locks, name)
	}
	m.mu.Unlock()

	info := &LockInfo{
		Timestamp: time.Now().UnixMilli(),
		Timeout:   defaultLockTimeout,
		Owner:     Owner(),
	}

	path := lockFilePath(workDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, false, fmt.Errorf("create lock dir: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return false, false, fmt.Errorf("marshal lock info: %w", err)
	}

	// m.mu is held from the exclusive create until the payload is written
	// and registered, so another goroutine of this process never reads the
	// file while it is still empty and removes it as stale.
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		if _, werr := f.Write(data); werr != nil {
			return false, false, fmt.Errorf("write lock file: %w", werr)
		}
		m.evictIfOverCeilingLocked()
		m.locks[name] = &heldLock{info: info}
		return true, false, nil
	}
	if !os.IsExist(err) {
		return false, false, fmt.Errorf("create lock file: %w", err)
	}

	// Lock file already exists on disk: check staleness.
	existing, readErr := readLockFile(path)
	if readErr != nil || existing == nil || !existing.live(time.Now()) {
		if unlinkErr := os.Remove(path); unlinkErr != nil && !os.IsNotExist(unlinkErr) {
			return false, false, fmt.Errorf("remove stale lock file: %w", unlinkErr)
		}
		return false, true, nil
	}
	return false, false, nil
}

func readLockFile(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if err := jsonsafe.Check(data); err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nil // treat unparseable as stale, not a hard error
	}
	return &info, nil
}

// persistLocked refreshes the content of a lock file this process already
// owns (the re-entrant re-acquire path). The file itself was created
// exclusively by tryAcquireOnce; this only rewrites its timestamp, so a
// temp-file-then-rename keeps concurrent readers from ever observing a
// half-written LockInfo.
func (m *Manager) persistLocked(workDir, name string, info *LockInfo) error {
	path := lockFilePath(workDir, name)
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// evictIfOverCeilingLocked enforces the 5000-entry registry ceiling: expired
// entries are evicted first; if still over, the oldest locks owned by other
// processes are evicted, preserving every lock owned by this process.
// Callers must hold m.mu.
func (m *Manager) evictIfOverCeilingLocked() {
	if len(m.locks) < registryCeiling {
		return
	}
	now := time.Now()
	for name, l := range m.locks {
		if !l.info.live(now) {
			delete(m.locks, name)
		}
	}
	if len(m.locks) < registryCeiling {
		return
	}
	self := Owner()
	type aged struct {
		name string
		ts   int64
	}
	var others []aged
	for name, l := range m.locks {
		if l.info.Owner != self {
			others = append(others, aged{name, l.info.Timestamp})
		}
	}
	for len(m.locks) >= registryCeiling && len(others) > 0 {
		oldestIdx := 0
		for i, a := range others {
			if a.ts < others[oldestIdx].ts {
				oldestIdx = i
			}
		}
		delete(m.locks, others[oldestIdx].name)
		others = append(others[:oldestIdx], others[oldestIdx+1:]...)
	}
}

// Release releases the lock for path, if held in memory, and removes its
// on-disk file.
func (m *Manager) Release(path, workDir string) error {
	name := Normalize(path)
	m.mu.Lock()
	delete(m.locks, name)
	m.mu.Unlock()

	p := lockFilePath(workDir, name)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// AcquireMany deduplicates paths by normalized name, attempts acquisition in
// the given order, and on any failure releases only the locks it acquired
// during this call (rollback). It does not by itself guarantee
// deadlock-freedom across independent callers; the canonical mitigation is
// for callers to sort paths lexicographically before calling.
func (m *Manager) AcquireMany(paths []string, workDir string) (bool, error) {
	seen := set.New[string](len(paths))
	var ordered []string
	for _, p := range paths {
		n := Normalize(p)
		if seen.Insert(n) {
			ordered = append(ordered, p)
		}
	}

	var acquired []string
	for _, p := range ordered {
		ok, err := m.Acquire(p, workDir, defaultMaxRetries, false)
		if err != nil {
			m.rollback(acquired, workDir)
			return false, err
		}
		if !ok {
			m.rollback(acquired, workDir)
			return false, nil
		}
		acquired = append(acquired, p)
	}
	return true, nil
}

func (m *Manager) rollback(acquired []string, workDir string) {
	for _, p := range acquired {
		_ = m.Release(p, workDir)
	}
}

// ReleaseMany releases every path in paths, aggregating any errors.
func (m *Manager) ReleaseMany(paths []string, workDir string) error {
	var result *multierror.Error
	for _, p := range paths {
		if err := m.Release(p, workDir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ClearAll drops every in-memory lock and removes every on-disk lock file
// this manager knows about. Intended for test teardown and emergency reset.
func (m *Manager) ClearAll(workDir string) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.locks))
	for name := range m.locks {
		names = append(names, name)
	}
	m.locks = make(map[string]*heldLock)
	m.mu.Unlock()

	var result *multierror.Error
	for _, name := range names {
		if err := os.Remove(lockFilePath(workDir, name)); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// maybeCleanup runs CleanupStale at most once per cleanupInterval,
// guarded by a last-cleanup timestamp.
func (m *Manager) maybeCleanup(workDir string) {
	m.mu.Lock()
	if time.Since(m.lastCleanup) < cleanupInterval {
		m.mu.Unlock()
		return
	}
	m.lastCleanup = time.Now()
	m.mu.Unlock()

	if err := m.CleanupStale(workDir); err != nil {
		m.logger.Debug("stale lock cleanup failed", "error", err)
	}
}

// CleanupStale evicts expired in-memory locks and unlinks expired on-disk
// lock files under workDir.
func (m *Manager) CleanupStale(workDir string) error {
	now := time.Now()
	m.mu.Lock()
	for name, l := range m.locks {
		if !l.info.live(now) {
			delete(m.locks, name)
		}
	}
	m.mu.Unlock()

	dir := filepath.Join(workDir, lockSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock dir: %w", err)
	}

	var result *multierror.Error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, readErr := readLockFile(path)
		if readErr != nil || info == nil || !info.live(now) {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				result = multierror.Append(result, rmErr)
			}
		}
	}
	return result.ErrorOrNil()
}

// Stats reports introspection data used by the out-of-scope UI layer.
type Stats struct {
	HeldCount    int
	OldestMillis int64
}

// Stats returns a snapshot of the in-memory lock registry.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{HeldCount: len(m.locks)}
	for _, l := range m.locks {
		if s.OldestMillis == 0 || l.info.Timestamp < s.OldestMillis {
			s.OldestMillis = l.info.Timestamp
		}
	}
	return s
}

