// Package taskstate is the durable source of truth for task lifecycle: a
// per-task state machine persisted atomically. The state file's extension
// follows the task source format; its content is YAML for YAML sources and
// JSON for all others.
package taskstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/VX1D/ralphy/internal/tasksource"
)

// State is one of the six lifecycle states a task entry can occupy.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDeferred  State = "deferred"
	StateSkipped   State = "skipped"
)

const schemaVersion = 1

// ExecutionContext captures where a task's work is happening, when known.
type ExecutionContext struct {
	Branch   string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Worktree string `json:"worktree,omitempty" yaml:"worktree,omitempty"`
	Sandbox  string `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
}

// Entry is the durable per-task record.
type Entry struct {
	ID               string            `json:"id" yaml:"id"`
	Title            string            `json:"title" yaml:"title"`
	State            State             `json:"state" yaml:"state"`
	AttemptCount     int               `json:"attemptCount" yaml:"attemptCount"`
	LastAttemptTime  *int64            `json:"lastAttemptTime,omitempty" yaml:"lastAttemptTime,omitempty"`
	ErrorHistory     []string          `json:"errorHistory" yaml:"errorHistory"`
	ExecutionContext *ExecutionContext `json:"executionContext,omitempty" yaml:"executionContext,omitempty"`
}

// document is the on-disk schema: {version, lastUpdated, tasks: map<key,Entry>}.
type document struct {
	Version     int              `json:"version" yaml:"version"`
	LastUpdated time.Time        `json:"lastUpdated" yaml:"lastUpdated"`
	Tasks       map[string]Entry `json:"tasks" yaml:"tasks"`
}

// Manager is the durable state machine for one task source. Key is
// "<sourceType>:<sourcePath>:<id>"; callers never construct it directly.
// Safe for concurrent use by a single process (single-writer discipline is
// the orchestrator's responsibility, not this type's).
type Manager struct {
	mu         sync.Mutex
	sourceType string
	sourcePath string
	statePath  string
	format     tasksource.Format
	tasks      map[string]Entry
}

// Open loads (or creates) the state file for a task source, merges it
// against the current set of tasks from that source, and applies crash
// recovery: any entry left in "running" is reset to "pending" with
// attemptCount zeroed. sourceType is a short label such as "csv" or "yaml"
// used only to build entry keys, distinct from the persistence format (the
// two happen to coincide for the source file itself but need not for the
// state file's own extension).
func Open(statePath string, sourceType, sourcePath string, format tasksource.Format, current []tasksource.Task) (*Manager, error) {
	stored, err := loadDocument(statePath, format)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sourceType: sourceType,
		sourcePath: sourcePath,
		statePath:  statePath,
		format:     format,
		tasks:      map[string]Entry{},
	}

	for _, t := range current {
		key := m.key(t.ID)
		if existing, ok := stored[key]; ok {
			if existing.State == StateRunning {
				existing.State = StatePending
				existing.AttemptCount = 0
			}
			existing.Title = t.Title
			m.tasks[key] = existing
			continue
		}
		m.tasks[key] = Entry{
			ID:           t.ID,
			Title:        t.Title,
			State:        StatePending,
			ErrorHistory: []string{},
		}
	}

	if err := m.persist(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) key(id string) string {
	return fmt.Sprintf("%s:%s:%s", m.sourceType, m.sourcePath, id)
}

// Get returns a copy of the entry for id, if tracked.
func (m *Manager) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[m.key(id)]
	return e, ok
}

// All returns a copy of every tracked entry, unordered.
func (m *Manager) All() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		out = append(out, e)
	}
	return out
}

// ClaimTaskForExecution is the only legitimate way to enter "running": it
// transitions and persists atomically, returning true iff the entry was
// previously "pending". Concurrent callers in the same process are
// serialized by the manager's mutex, so at most one ever observes true for
// a given id.
func (m *Manager) ClaimTaskForExecution(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.key(id)
	e, ok := m.tasks[key]
	if !ok || e.State != StatePending {
		return false, nil
	}
	e.State = StateRunning
	now := time.Now().UnixMilli()
	e.LastAttemptTime = &now
	e.AttemptCount++
	m.tasks[key] = e
	if err := m.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// TransitionState is unrestricted: it moves id directly to next, appending
// errMsg to the error history when non-empty. Used by the executor to
// report completion, failure, deferral, or skip.
func (m *Manager) TransitionState(id string, next State, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.key(id)
	e, ok := m.tasks[key]
	if !ok {
		return fmt.Errorf("taskstate: unknown task %q", id)
	}
	e.State = next
	if errMsg != "" {
		e.ErrorHistory = append(e.ErrorHistory, errMsg)
	}
	m.tasks[key] = e
	return m.persist()
}

// ResetTask moves a failed or skipped entry back to pending, zeroing
// attemptCount, so it can be retried from scratch.
func (m *Manager) ResetTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.key(id)
	e, ok := m.tasks[key]
	if !ok {
		return fmt.Errorf("taskstate: unknown task %q", id)
	}
	e.State = StatePending
	e.AttemptCount = 0
	e.LastAttemptTime = nil
	m.tasks[key] = e
	return m.persist()
}

func (m *Manager) persist() error {
	doc := document{
		Version:     schemaVersion,
		LastUpdated: time.Now(),
		Tasks:       m.tasks,
	}
	return saveDocument(m.statePath, m.format, doc)
}
