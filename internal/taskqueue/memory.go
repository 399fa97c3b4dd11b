package taskqueue

import (
	"context"
	"sort"
	"sync"

	"github.com/VX1D/ralphy/internal/tasksource"
)

// partition names a memory backend's five disjoint buckets.
type partition int

const (
	partPending partition = iota
	partRunning
	partCompleted
	partFailed
	partSkipped
)

// Memory is the synchronous, in-process queue backend. Every operation
// holds a single mutex; five maps keyed by task id hold the partitions
// (pending, running, completed, failed, skipped).
type Memory struct {
	mu    sync.Mutex
	items map[partition]map[string]*Item
}

// NewMemory constructs an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		items: map[partition]map[string]*Item{
			partPending:   {},
			partRunning:   {},
			partCompleted: {},
			partFailed:    {},
			partSkipped:   {},
		},
	}
}

func (m *Memory) locate(id string) (partition, *Item, bool) {
	for p, bucket := range m.items {
		if it, ok := bucket[id]; ok {
			return p, it, true
		}
	}
	return 0, nil, false
}

func (m *Memory) Enqueue(_ context.Context, task tasksource.Task, priority Priority, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[partPending][task.ID] = &Item{
		Task:        task,
		Priority:    priority,
		EnqueuedAt:  nowMillis(),
		MaxAttempts: maxAttempts,
	}
	return nil
}

// Dequeue pops the pending item with the smallest (priorityRank,
// enqueuedAt) and moves it to running.
func (m *Memory) Dequeue(_ context.Context, workerID string) (*Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.nextPendingLocked()
	if !ok {
		return nil, false, nil
	}
	delete(m.items[partPending], it.Task.ID)
	now := nowMillis()
	it.StartedAt = &now
	m.items[partRunning][it.Task.ID] = it
	copyItem := *it
	return &copyItem, true, nil
}

func (m *Memory) Peek(_ context.Context) (*Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.nextPendingLocked()
	if !ok {
		return nil, false, nil
	}
	copyItem := *it
	return &copyItem, true, nil
}

func (m *Memory) nextPendingLocked() (*Item, bool) {
	pending := m.items[partPending]
	if len(pending) == 0 {
		return nil, false
	}
	ordered := make([]*Item, 0, len(pending))
	for _, it := range pending {
		ordered = append(ordered, it)
	}
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := ordered[i].score(), ordered[j].score()
		if si != sj {
			return si < sj
		}
		return ordered[i].EnqueuedAt < ordered[j].EnqueuedAt
	})
	return ordered[0], true
}

func (m *Memory) MarkRunning(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, it, ok := m.locate(id)
	if !ok {
		return nil
	}
	delete(m.items[partPending], id)
	now := nowMillis()
	it.StartedAt = &now
	m.items[partRunning][id] = it
	return nil
}

func (m *Memory) MarkComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, it, ok := m.locate(id)
	if !ok {
		return nil
	}
	delete(m.items[p], id)
	now := nowMillis()
	it.CompletedAt = &now
	m.items[partCompleted][id] = it
	return nil
}

// MarkFailed increments attempts; if under maxAttempts the item returns to
// pending (retried=true), else it moves to failed.
func (m *Memory) MarkFailed(_ context.Context, id string, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, it, ok := m.locate(id)
	if !ok {
		return false, nil
	}
	delete(m.items[p], id)
	it.Attempts++
	if it.MaxAttempts > 0 && it.Attempts >= it.MaxAttempts {
		m.items[partFailed][id] = it
		return false, nil
	}
	it.StartedAt = nil
	m.items[partPending][id] = it
	return true, nil
}

// MarkSkipped accepts an item from pending or running.
func (m *Memory) MarkSkipped(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, it, ok := m.locate(id)
	if !ok {
		return nil
	}
	delete(m.items[p], id)
	m.items[partSkipped][id] = it
	return nil
}

func (m *Memory) ResetTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, it, ok := m.locate(id)
	if !ok {
		return nil
	}
	delete(m.items[p], id)
	it.Attempts = 0
	it.StartedAt = nil
	it.CompletedAt = nil
	it.EnqueuedAt = nowMillis()
	m.items[partPending][id] = it
	return nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _, ok := m.locate(id)
	if ok {
		delete(m.items[p], id)
	}
	return nil
}

func (m *Memory) HasTask(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, ok := m.locate(id)
	return ok, nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, it, ok := m.locate(id)
	if !ok {
		return nil, false, nil
	}
	copyItem := *it
	return &copyItem, true, nil
}

func (m *Memory) partitionSlice(p partition) []Item {
	bucket := m.items[p]
	out := make([]Item, 0, len(bucket))
	for _, it := range bucket {
		out = append(out, *it)
	}
	return out
}

func (m *Memory) GetPending(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partitionSlice(partPending), nil
}

func (m *Memory) GetRunning(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partitionSlice(partRunning), nil
}

func (m *Memory) GetCompleted(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partitionSlice(partCompleted), nil
}

func (m *Memory) GetFailed(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partitionSlice(partFailed), nil
}

func (m *Memory) GetSkipped(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partitionSlice(partSkipped), nil
}

func (m *Memory) GetStats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPriority := map[Priority]int{}
	for _, it := range m.items[partPending] {
		byPriority[it.Priority]++
	}
	return Stats{
		Pending:    len(m.items[partPending]),
		Running:    len(m.items[partRunning]),
		Completed:  len(m.items[partCompleted]),
		Failed:     len(m.items[partFailed]),
		Skipped:    len(m.items[partSkipped]),
		ByPriority: byPriority,
	}, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.items {
		m.items[p] = map[string]*Item{}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Queue = (*Memory)(nil)
