package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VX1D/ralphy/internal/cmdrunner"
	"github.com/VX1D/ralphy/internal/retry"
	"github.com/VX1D/ralphy/internal/tasksource"
)

func TestAdapterPlanParsesSuccessfulResponse(t *testing.T) {
	t.Parallel()
	runner := cmdrunner.New(nil)
	response := "<ANALYSIS>ok</ANALYSIS>\n<PLAN>1. do it</PLAN>\n<FILES>a.go</FILES>\n<OPTIMIZATION>none</OPTIMIZATION>\n"
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "response.txt"), []byte(response), 0o644))
	a := NewAdapter(runner, nil, "cat", []string{"response.txt"})

	plan, err := a.Plan(context.Background(), tasksource.Task{ID: "1", Title: "demo"}, dir, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", plan.Analysis)
	require.Equal(t, []string{"a.go"}, plan.Files)
}

// TestAdapterPlanReplansOnMalformedOutput verifies a raw tool_use response
// is detected as malformed and triggers a re-plan attempt.
func TestAdapterPlanReplansOnMalformedOutput(t *testing.T) {
	t.Parallel()
	runner := cmdrunner.New(nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "response.txt"), []byte(`{"type":"tool_use","name":"edit"}`+"\n"), 0o644))
	a := NewAdapter(runner, nil, "cat", []string{"response.txt"})
	a.maxReplans = 3

	plan, err := a.Plan(context.Background(), tasksource.Task{ID: "1", Title: "demo"}, dir, nil)
	require.NoError(t, err)
	require.Empty(t, plan.Files)
	require.Contains(t, plan.Error, "Planning failed")
	require.Contains(t, plan.Error, "tool")
}

// TestAdapterPlanRespectsOpenCircuitBreaker verifies that once the Adapter's
// breaker has recorded enough consecutive connection failures to open, Plan
// fails immediately without invoking the engine at all.
func TestAdapterPlanRespectsOpenCircuitBreaker(t *testing.T) {
	t.Parallel()
	runner := cmdrunner.New(nil)
	a := NewAdapter(runner, nil, "printf", []string{"<ANALYSIS>ok</ANALYSIS>\n"})
	a.breaker.RecordConnectionFailure()
	a.breaker.RecordConnectionFailure()
	a.breaker.RecordConnectionFailure()
	require.Equal(t, retry.StateOpen, a.breaker.State())

	_, err := a.Plan(context.Background(), tasksource.Task{ID: "1", Title: "demo"}, t.TempDir(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "circuit breaker is OPEN")
}

func TestBuildPromptIncludesTitleAndBody(t *testing.T) {
	t.Parallel()
	prompt := BuildPrompt(tasksource.Task{ID: "1", Title: "Add login", Body: "Use OAuth"})
	require.Contains(t, prompt, "Add login")
	require.Contains(t, prompt, "Use OAuth")
	require.Contains(t, prompt, "<FILES>")
}
