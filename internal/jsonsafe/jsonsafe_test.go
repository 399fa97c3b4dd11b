package jsonsafe

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestCheckAllowsOrdinaryJSON(t *testing.T) {
	t.Parallel()
	must.NoError(t, Check([]byte(`{"id":"1","title":"ok"}`)))
}

func TestCheckRejectsDangerousKeys(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"__proto__":{}}`,
		`{"constructor":{}}`,
		`{"prototype":{}}`,
	}
	for _, c := range cases {
		must.Error(t, Check([]byte(c)))
	}
}

func TestCheckEmptyInput(t *testing.T) {
	t.Parallel()
	must.NoError(t, Check(nil))
}
