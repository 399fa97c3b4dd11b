package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/VX1D/ralphy/internal/taskqueue"
	"github.com/VX1D/ralphy/internal/tasksource"
	"github.com/VX1D/ralphy/internal/taskstate"
)

// RunCommand loads a task source, seeds the queue and state manager, and
// drains every pending task through a no-op executor, printing final
// stats. It exists so the module is runnable end to end; it does not plan,
// retry, lock, or invoke an engine — that orchestration is the caller's.
type RunCommand struct{}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: ralphy run [options] <task-source-file>

  Loads a CSV/YAML/JSON/Markdown task source, seeds the in-memory queue
  and the durable task-state manager rooted at <workDir>/.ralphy, then
  drains every pending task to completion.

Options:

  -workdir=<path>   Working directory (default: current directory)
`)
}

func (c *RunCommand) Synopsis() string {
	return "Run every pending task from a task source file"
}

func (c *RunCommand) Run(args []string) int {
	logger := hclog.New(&hclog.LoggerOptions{Name: "ralphy"})

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	workDir := fs.String("workdir", ".", "working directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		logger.Error("expected exactly one task source file argument")
		return 1
	}
	sourcePath := fs.Arg(0)

	format, err := tasksource.DetectFormat(sourcePath)
	if err != nil {
		logger.Error("detect task source format", "error", err)
		return 1
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		logger.Error("read task source", "error", err)
		return 1
	}
	tasks, err := tasksource.Parse(format, data)
	if err != nil {
		logger.Error("parse task source", "error", err)
		return 1
	}

	statePath := taskstate.StatePath(*workDir, format)
	states, err := taskstate.Open(statePath, string(format), sourcePath, format, tasks)
	if err != nil {
		logger.Error("open task state", "error", err)
		return 1
	}

	ctx := context.Background()
	queue := taskqueue.NewMemory()
	for _, t := range tasks {
		if err := queue.Enqueue(ctx, t, taskqueue.PriorityNormal, 3); err != nil {
			logger.Error("enqueue task", "id", t.ID, "error", err)
			return 1
		}
	}

	workerID, err := taskqueue.NewWorkerID(0)
	if err != nil {
		logger.Error("generate worker id", "error", err)
		return 1
	}

	for {
		item, ok, err := queue.Dequeue(ctx, workerID)
		if err != nil {
			logger.Error("dequeue task", "error", err)
			return 1
		}
		if !ok {
			break
		}

		claimed, err := states.ClaimTaskForExecution(item.Task.ID)
		if err != nil || !claimed {
			logger.Warn("task state already left pending, skipping", "id", item.Task.ID)
			_ = queue.MarkSkipped(ctx, item.Task.ID)
			continue
		}

		logger.Info("task complete (no-op executor)", "id", item.Task.ID, "title", item.Task.Title)
		_ = states.TransitionState(item.Task.ID, taskstate.StateCompleted, "")
		_ = queue.MarkComplete(ctx, item.Task.ID)
	}

	stats, err := queue.GetStats(ctx)
	if err != nil {
		logger.Error("get stats", "error", err)
		return 1
	}
	fmt.Printf("completed=%d failed=%d skipped=%d\n", stats.Completed, stats.Failed, stats.Skipped)
	return 0
}
