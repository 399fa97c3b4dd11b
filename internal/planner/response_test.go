package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseResponseExtractsAllSections(t *testing.T) {
	t.Parallel()
	raw := `
<ANALYSIS>
The login flow needs an OAuth provider.
</ANALYSIS>
<PLAN>
1. Add provider config
2. Wire callback route
</PLAN>
<FILES>
- ./internal/auth/oauth.go
- ` + "`internal/auth/oauth_test.go`" + `
internal/auth/oauth.go
</FILES>
<OPTIMIZATION>
Batch the two files into one commit.
</OPTIMIZATION>
`
	p := ParseResponse(raw)
	require.Contains(t, p.Analysis, "OAuth provider")
	require.Equal(t, []string{"Add provider config", "Wire callback route"}, p.Steps)
	require.Equal(t, []string{"internal/auth/oauth.go", "internal/auth/oauth_test.go"}, p.Files)
	require.Contains(t, p.Optimization, "Batch")
}

func TestParseFilesStripsBulletsAndDedupes(t *testing.T) {
	t.Parallel()
	section := "- a/b.go\n* a/b.go\n2) c/d.go\n# a comment\n\n./e/f.go\n"
	files := parseFiles(section)
	require.Equal(t, []string{"a/b.go", "c/d.go", "e/f.go"}, files)
}

func TestIsMalformedDetectsRawToolUse(t *testing.T) {
	t.Parallel()
	require.True(t, IsMalformed(`{"type":"tool_use","name":"edit"}`))
	require.True(t, IsMalformed("  "+`{"type": "tool_use"}`))
	require.False(t, IsMalformed("<ANALYSIS>ok</ANALYSIS>"))
}
