package ralphyerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("string", func(t *testing.T) {
		e := Normalize("boom")
		require.Equal(t, CodeString, e.Code)
		require.Equal(t, "boom", e.Message)
	})

	t.Run("plain error", func(t *testing.T) {
		e := Normalize(errors.New("connection refused"))
		require.Equal(t, CodeNetwork, e.Code)
		require.Equal(t, "connection refused", e.Message)
		require.ErrorIs(t, e, e.Context["cause"].(error))
	})

	t.Run("plain error with no classifiable pattern", func(t *testing.T) {
		e := Normalize(errors.New("something weird"))
		require.Equal(t, CodeUnknown, e.Code)
	})

	t.Run("already normalized", func(t *testing.T) {
		orig := New(CodeNetwork, "econnreset", nil)
		require.Same(t, orig, Normalize(orig))
	})

	t.Run("wrapped Error", func(t *testing.T) {
		orig := New(CodeNetwork, "econnreset", nil)
		wrapped := errors.New("wrap: " + orig.Error())
		e := Normalize(wrapped)
		require.Equal(t, CodeNetwork, e.Code)
	})

	t.Run("other", func(t *testing.T) {
		e := Normalize(42)
		require.Equal(t, CodeUnknown, e.Code)
		require.Equal(t, "42", e.Message)
	})

	t.Run("nil", func(t *testing.T) {
		require.Nil(t, Normalize(nil))
	})
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       *Error
		retryable bool
	}{
		{"timeout code", New(CodeTimeout, "deadline exceeded", nil), true},
		{"network pattern", New(CodeUnknown, "dial tcp: connection refused", nil), true},
		{"rate limit text", New(CodeUnknown, "429 too many requests", nil), true},
		{"fatal overrides network text", New(CodeNetwork, "401 unauthorized", nil), false},
		{"auth code", New(CodeAuth, "nope", nil), false},
		{"command not found", New(CodeProcess, "bash: foo: command not found", nil), false},
		{"plain unknown", New(CodeUnknown, "something weird", nil), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		message string
		want    Code
	}{
		{"timeout wins over fallback", "context deadline exceeded", CodeTimeout},
		{"network pattern", "dial tcp: connection refused", CodeNetwork},
		{"econnreset", "read: econnreset", CodeNetwork},
		{"no match falls back", "exit status 127", CodeProcess},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ClassifyMessage(tc.message, CodeProcess))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	require.True(t, IsFatal(New(CodeProcess, "not installed", nil)))
	require.False(t, IsFatal(New(CodeProcess, "exit status 1", nil)))
	require.False(t, IsFatal(nil))
}
