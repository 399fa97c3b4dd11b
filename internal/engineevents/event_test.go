package engineevents

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	t.Run("step_finish with trailing text", func(t *testing.T) {
		ex := ParseLine(`{"type":"step_finish","tokens":{"input":10,"output":20}} trailing note`)
		require.NotNil(t, ex)
		require.Equal(t, TypeStepFinish, ex.Event.Type)
		require.Equal(t, "trailing note", ex.Remaining)
		in, out, ok := TokenUsage(ex.Event)
		require.True(t, ok)
		require.Equal(t, 10, in)
		require.Equal(t, 20, out)
	})

	t.Run("nested braces in string", func(t *testing.T) {
		ex := ParseLine(`{"type":"text","text":"has a { brace } inside"}`)
		require.NotNil(t, ex)
		require.Equal(t, "has a { brace } inside", ex.Event.Text)
	})

	t.Run("not json", func(t *testing.T) {
		require.Nil(t, ParseLine("just some free text"))
	})

	t.Run("unrecognized type", func(t *testing.T) {
		require.Nil(t, ParseLine(`{"type":"mystery"}`))
	})

	t.Run("unbalanced", func(t *testing.T) {
		require.Nil(t, ParseLine(`{"type":"text"`))
	})

	t.Run("result usage priority", func(t *testing.T) {
		ex := ParseLine(`{"type":"result","usage":{"input_tokens":1,"output_tokens":2},"tokens":{"input":99,"output":99}}`)
		in, out, ok := TokenUsage(ex.Event)
		require.True(t, ok)
		require.Equal(t, 1, in)
		require.Equal(t, 2, out)
	})
}

func TestActionLabel(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Reading code", ActionLabel("read_file", ""))
	require.Equal(t, "Linting", ActionLabel("", "golangci-lint run"))
	require.Equal(t, "Committing", ActionLabel("", "git commit -m x"))
	require.Equal(t, "Staging", ActionLabel("", "git add ."))
}

func TestClassifyText(t *testing.T) {
	t.Parallel()
	msg, ok := ClassifyText("Error: you have exceeded your rate limit")
	require.True(t, ok)
	require.NotEmpty(t, msg)

	_, ok = ClassifyText("all good here")
	require.False(t, ok)
}

func TestIsAuthFailure(t *testing.T) {
	t.Parallel()
	require.True(t, IsAuthFailure(&Event{Type: TypeError, Message: "Authentication failed: bad key"}))
	require.True(t, IsAuthFailure(&Event{Type: TypeError, ErrorV: "authentication_failed"}))
	require.False(t, IsAuthFailure(&Event{Type: TypeText, Text: "unauthorized mention in a log line"}))
	require.False(t, IsAuthFailure(nil))
}
