package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluator(t *testing.T) {
	doc := map[string]any{
		"input": map[string]any{"x": true, "count": 3},
		"state": map[string]any{"name": "weft"},
	}

	for scenario, fn := range map[string]func(t *testing.T){
		"test bool via dollar": func(t *testing.T) {
			ok, err := EvalBool("$.input.x == true", doc)
			require.NoError(t, err)
			require.True(t, ok)
		},
		"test bool via global": func(t *testing.T) {
			ok, err := EvalBool("input.count > 5", doc)
			require.NoError(t, err)
			require.False(t, ok)
		},
		"test absent key is falsy": func(t *testing.T) {
			ok, err := EvalBool("$.input.missing == true", doc)
			require.NoError(t, err)
			require.False(t, ok)
		},
		"test eval value": func(t *testing.T) {
			v, err := Eval("state.name + '-engine'", doc)
			require.NoError(t, err)
			require.Equal(t, "weft-engine", v)
		},
		"test syntax error": func(t *testing.T) {
			_, err := EvalBool("input.x ===", doc)
			require.Error(t, err)
		},
	} {
		t.Run(scenario, fn)
	}
}
