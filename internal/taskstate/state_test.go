package taskstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VX1D/ralphy/internal/tasksource"
)

func testTasks() []tasksource.Task {
	return []tasksource.Task{
		{ID: "1", Title: "Add login"},
		{ID: "2", Title: "Fix bug"},
	}
}

func TestOpenInitializesPending(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatJSON)

	m, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)

	e, ok := m.Get("1")
	require.True(t, ok)
	require.Equal(t, StatePending, e.State)
	require.Equal(t, 0, e.AttemptCount)
}

func TestClaimTaskForExecution(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatJSON)
	m, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)

	ok, err := m.ClaimTaskForExecution("1")
	require.NoError(t, err)
	require.True(t, ok)

	e, _ := m.Get("1")
	require.Equal(t, StateRunning, e.State)
	require.Equal(t, 1, e.AttemptCount)

	// Already running: claim must fail.
	ok, err = m.ClaimTaskForExecution("1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTransitionStateAppendsErrorHistory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatJSON)
	m, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)

	_, err = m.ClaimTaskForExecution("1")
	require.NoError(t, err)

	require.NoError(t, m.TransitionState("1", StateFailed, "boom"))
	e, _ := m.Get("1")
	require.Equal(t, StateFailed, e.State)
	require.Equal(t, []string{"boom"}, e.ErrorHistory)
}

func TestResetTask(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatJSON)
	m, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)

	_, err = m.ClaimTaskForExecution("1")
	require.NoError(t, err)
	require.NoError(t, m.TransitionState("1", StateFailed, "boom"))

	require.NoError(t, m.ResetTask("1"))
	e, _ := m.Get("1")
	require.Equal(t, StatePending, e.State)
	require.Equal(t, 0, e.AttemptCount)
	require.Nil(t, e.LastAttemptTime)
}

// TestCrashRecovery verifies any entry previously running is reset to
// pending with attemptCount==0 after the process restarts.
func TestCrashRecovery(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatJSON)

	m1, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)
	ok, err := m1.ClaimTaskForExecution("1")
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate a fresh process re-opening the same state file.
	m2, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)

	e, ok := m2.Get("1")
	require.True(t, ok)
	require.Equal(t, StatePending, e.State)
	require.Equal(t, 0, e.AttemptCount)
}

func TestOpenDropsUnknownMergesNew(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatJSON)

	m1, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, testTasks())
	require.NoError(t, err)
	require.NoError(t, m1.TransitionState("2", StateCompleted, ""))

	// Task "2" is dropped from the source, task "3" is new.
	narrowed := []tasksource.Task{
		{ID: "1", Title: "Add login"},
		{ID: "3", Title: "New task"},
	}
	m2, err := Open(path, "json", "tasks.json", tasksource.FormatJSON, narrowed)
	require.NoError(t, err)

	_, ok := m2.Get("2")
	require.False(t, ok)

	e3, ok := m2.Get("3")
	require.True(t, ok)
	require.Equal(t, StatePending, e3.State)

	all := m2.All()
	require.Len(t, all, 2)
}

func TestYAMLStateRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatYAML)

	m1, err := Open(path, "yaml", "tasks.yaml", tasksource.FormatYAML, testTasks())
	require.NoError(t, err)
	require.NoError(t, m1.TransitionState("1", StateCompleted, ""))

	m2, err := Open(path, "yaml", "tasks.yaml", tasksource.FormatYAML, testTasks())
	require.NoError(t, err)
	e, ok := m2.Get("1")
	require.True(t, ok)
	require.Equal(t, StateCompleted, e.State)
}

func TestMarkdownStateFileUsesJSONContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := StatePath(dir, tasksource.FormatMarkdown)
	require.Equal(t, filepath.Join(dir, ".ralphy", "task-state.md"), path)

	m, err := Open(path, "md", "tasks.md", tasksource.FormatMarkdown, testTasks())
	require.NoError(t, err)
	require.NoError(t, m.TransitionState("1", StateSkipped, ""))

	m2, err := Open(path, "md", "tasks.md", tasksource.FormatMarkdown, testTasks())
	require.NoError(t, err)
	e, ok := m2.Get("1")
	require.True(t, ok)
	require.Equal(t, StateSkipped, e.State)
}
