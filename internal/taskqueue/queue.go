// Package taskqueue is the priority/FIFO task queue with per-item retry
// budgets, available in three interchangeable backends: in-memory,
// file-backed, and Redis.
package taskqueue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/VX1D/ralphy/internal/tasksource"
)

// Priority is the scheduling class of a queue item, highest first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int64{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// priorityScore orders items by (priorityRank, enqueuedAt), lower first.
func priorityScore(p Priority, enqueuedAtMillis int64) float64 {
	return float64(priorityRank[p])*1e15 + float64(enqueuedAtMillis)
}

// Item is one entry in the queue.
type Item struct {
	Task         tasksource.Task `json:"task"`
	Priority     Priority        `json:"priority"`
	EnqueuedAt   int64           `json:"enqueuedAt"` // unix millis
	StartedAt    *int64          `json:"startedAt,omitempty"`
	CompletedAt  *int64          `json:"completedAt,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
}

func (it *Item) score() float64 {
	return priorityScore(it.Priority, it.EnqueuedAt)
}

// Stats summarizes the partition sizes of a queue, plus a pending-count
// breakdown by priority class.
type Stats struct {
	Pending    int
	Running    int
	Completed  int
	Failed     int
	Skipped    int
	ByPriority map[Priority]int
}

// Queue is the full interface implemented by each backend.
type Queue interface {
	Enqueue(ctx context.Context, task tasksource.Task, priority Priority, maxAttempts int) error
	Dequeue(ctx context.Context, workerID string) (*Item, bool, error)
	Peek(ctx context.Context) (*Item, bool, error)

	MarkRunning(ctx context.Context, id, workerID string) error
	MarkComplete(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) (retried bool, err error)
	MarkSkipped(ctx context.Context, id string) error
	ResetTask(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error

	HasTask(ctx context.Context, id string) (bool, error)
	GetTask(ctx context.Context, id string) (*Item, bool, error)

	GetPending(ctx context.Context) ([]Item, error)
	GetRunning(ctx context.Context) ([]Item, error)
	GetCompleted(ctx context.Context) ([]Item, error)
	GetFailed(ctx context.Context) ([]Item, error)
	GetSkipped(ctx context.Context) ([]Item, error)

	GetStats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// NewWorkerID builds a worker identity of the form "<pid>-<startMillis>-<random9>".
func NewWorkerID(startMillis int64) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("generate worker id: %w", err)
	}
	// GenerateUUID yields 8-4-4-4-12 hex groups; skipping the dash at
	// index 8 leaves nine random hex characters.
	suffix := id[:8] + id[9:10]
	return fmt.Sprintf("%d-%d-%s", os.Getpid(), startMillis, suffix), nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
