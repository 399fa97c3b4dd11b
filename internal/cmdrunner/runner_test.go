package cmdrunner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// failingReader returns a fixed error after yielding one line, simulating a
// pipe read failure mid-stream.
type failingReader struct {
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		n := copy(p, []byte("partial\n"))
		return n, nil
	}
	return 0, errors.New("simulated pipe failure")
}

func TestValidateArg(t *testing.T) {
	t.Parallel()

	bad := []string{
		"foo;rm -rf /",
		"foo && bar",
		"foo || bar",
		"$(whoami)",
		"${HOME}",
		"`id`",
		"a|b",
		"a&b",
		"$FOO",
	}
	for _, s := range bad {
		require.Error(t, ValidateArg(s), "expected rejection for %q", s)
	}

	good := []string{"--flag", "path/to/file.txt", "./relative", "value-123_ABC.ext"}
	for _, s := range good {
		require.NoError(t, ValidateArg(s))
	}
}

func TestCommandExists(t *testing.T) {
	t.Parallel()
	require.True(t, CommandExists("echo"))
	require.False(t, CommandExists("definitely-not-a-real-command-xyz"))
	require.False(t, CommandExists("echo; rm -rf /"))
}

func TestExec(t *testing.T) {
	t.Parallel()
	r := New(nil)
	res, err := r.Exec(context.Background(), "echo", []string{"hello"}, t.TempDir(), nil, "")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "hello")
}

func TestExecStreaming(t *testing.T) {
	t.Parallel()
	r := New(nil)
	var lines []string
	var mu sync.Mutex
	res, err := r.ExecStreaming(context.Background(), "cat", nil, t.TempDir(), func(l string) {
		mu.Lock()
		lines = append(lines, l)
		mu.Unlock()
	}, nil, "a\nb\nc\n")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.ElementsMatch(t, []string{"a", "b", "c"}, lines)
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()
	r := New(nil)
	reg := NewCleanupRegistry(r)
	var called int
	reg.Register(func() { called++ })
	reg.Cleanup()
	reg.Cleanup()
	require.Equal(t, 1, called)
}

func TestShutdownNoChildrenReturnsNil(t *testing.T) {
	t.Parallel()
	r := New(nil)
	require.NoError(t, r.Shutdown())
}

// TestStreamLinesPropagatesScannerError verifies that the lines read before
// a mid-stream read failure reach the line callback and that the failure
// itself is returned, rather than silently discarded.
func TestStreamLinesPropagatesScannerError(t *testing.T) {
	t.Parallel()
	var lines []string
	err := streamLines(&failingReader{}, func(l string) {
		lines = append(lines, l)
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "simulated pipe failure")
	require.Equal(t, []string{"partial"}, lines)
}
