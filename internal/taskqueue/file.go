package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/VX1D/ralphy/internal/jsonsafe"
	"github.com/VX1D/ralphy/internal/tasksource"
)

const (
	fileDebounce        = 100 * time.Millisecond
	filePeriodicFlush   = 5 * time.Second
	fileMinSaveInterval = 1 * time.Second
)

// snapshot is the on-disk shape of a File queue: one array per partition.
type snapshot struct {
	Pending   []Item `json:"pending"`
	Running   []Item `json:"running"`
	Completed []Item `json:"completed"`
	Failed    []Item `json:"failed"`
	Skipped   []Item `json:"skipped"`
}

// File wraps Memory and debounces a JSON snapshot to disk via temp-file
// rename.
type File struct {
	*Memory
	path string

	saveMu       sync.Mutex
	timer        *time.Timer
	periodic     *time.Ticker
	lastSaved    time.Time
	pendingSave  bool
	stopPeriodic chan struct{}
}

// OpenFile loads (or creates) a file-backed queue at path.
func OpenFile(path string) (*File, error) {
	f := &File{
		Memory:       NewMemory(),
		path:         path,
		stopPeriodic: make(chan struct{}),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	f.periodic = time.NewTicker(filePeriodicFlush)
	go f.periodicFlushLoop()
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read queue snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := jsonsafe.Check(data); err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse queue snapshot: %w", err)
	}

	// running items are restored as pending; every other item is enqueued
	// and then moved straight into its saved partition with its saved
	// timestamps and attempts, so each item sits in exactly one partition.
	ctx := context.Background()
	for _, it := range append(append([]Item{}, snap.Pending...), snap.Running...) {
		it.StartedAt = nil
		if err := f.Memory.Enqueue(ctx, it.Task, it.Priority, it.MaxAttempts); err != nil {
			return err
		}
		f.Memory.items[partPending][it.Task.ID].EnqueuedAt = it.EnqueuedAt
		f.Memory.items[partPending][it.Task.ID].Attempts = it.Attempts
	}
	for _, it := range snap.Completed {
		f.replayInto(ctx, it, partCompleted)
	}
	for _, it := range snap.Failed {
		f.replayInto(ctx, it, partFailed)
	}
	for _, it := range snap.Skipped {
		f.replayInto(ctx, it, partSkipped)
	}
	return nil
}

func (f *File) replayInto(ctx context.Context, it Item, dest partition) {
	_ = f.Memory.Enqueue(ctx, it.Task, it.Priority, it.MaxAttempts)
	stored := f.Memory.items[partPending][it.Task.ID]
	delete(f.Memory.items[partPending], it.Task.ID)
	stored.EnqueuedAt = it.EnqueuedAt
	stored.StartedAt = it.StartedAt
	stored.CompletedAt = it.CompletedAt
	stored.Attempts = it.Attempts
	f.Memory.items[dest][it.Task.ID] = stored
}

func (f *File) scheduleSave() {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()
	f.pendingSave = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(fileDebounce, func() { _ = f.flush() })
}

func (f *File) periodicFlushLoop() {
	for {
		select {
		case <-f.periodic.C:
			f.saveMu.Lock()
			due := f.pendingSave
			f.saveMu.Unlock()
			if due {
				_ = f.flush()
			}
		case <-f.stopPeriodic:
			return
		}
	}
}

func (f *File) flush() error {
	f.saveMu.Lock()
	if time.Since(f.lastSaved) < fileMinSaveInterval {
		f.saveMu.Unlock()
		return nil
	}
	f.pendingSave = false
	f.lastSaved = time.Now()
	f.saveMu.Unlock()

	f.Memory.mu.Lock()
	snap := snapshot{
		Pending:   f.Memory.partitionSlice(partPending),
		Running:   f.Memory.partitionSlice(partRunning),
		Completed: f.Memory.partitionSlice(partCompleted),
		Failed:    f.Memory.partitionSlice(partFailed),
		Skipped:   f.Memory.partitionSlice(partSkipped),
	}
	f.Memory.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	return renameio.WriteFile(f.path, data, 0o644)
}

// every mutating Queue method on File defers to Memory then schedules a
// debounced save.

func (f *File) Enqueue(ctx context.Context, task tasksource.Task, priority Priority, maxAttempts int) error {
	if err := f.Memory.Enqueue(ctx, task, priority, maxAttempts); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

func (f *File) Dequeue(ctx context.Context, workerID string) (*Item, bool, error) {
	it, ok, err := f.Memory.Dequeue(ctx, workerID)
	if err == nil && ok {
		f.scheduleSave()
	}
	return it, ok, err
}

func (f *File) MarkRunning(ctx context.Context, id, workerID string) error {
	if err := f.Memory.MarkRunning(ctx, id, workerID); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

func (f *File) MarkComplete(ctx context.Context, id string) error {
	if err := f.Memory.MarkComplete(ctx, id); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

func (f *File) MarkFailed(ctx context.Context, id string, errMsg string) (bool, error) {
	retried, err := f.Memory.MarkFailed(ctx, id, errMsg)
	if err == nil {
		f.scheduleSave()
	}
	return retried, err
}

func (f *File) MarkSkipped(ctx context.Context, id string) error {
	if err := f.Memory.MarkSkipped(ctx, id); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

func (f *File) ResetTask(ctx context.Context, id string) error {
	if err := f.Memory.ResetTask(ctx, id); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

func (f *File) Remove(ctx context.Context, id string) error {
	if err := f.Memory.Remove(ctx, id); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

func (f *File) Clear(ctx context.Context) error {
	if err := f.Memory.Clear(ctx); err != nil {
		return err
	}
	f.scheduleSave()
	return nil
}

// Close stops the periodic flush loop and performs one final synchronous
// save, bypassing the minimum save interval.
func (f *File) Close() error {
	close(f.stopPeriodic)
	f.periodic.Stop()
	f.saveMu.Lock()
	f.lastSaved = time.Time{}
	f.saveMu.Unlock()
	return f.flush()
}

var _ Queue = (*File)(nil)
