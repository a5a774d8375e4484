package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteVariables_SimpleAndNested(t *testing.T) {
	vars := map[string]any{
		"name":  "Ada",
		"input": map[string]any{"topic": "compilers"},
	}
	out := substituteVariables("Hello {{name}}, let's discuss {{input.topic}}.", vars)
	assert.Equal(t, "Hello Ada, let's discuss compilers.", out)
}

func TestSubstituteVariables_LeavesUnresolvedPlaceholdersUntouched(t *testing.T) {
	out := substituteVariables("missing: {{nope}}", map[string]any{})
	assert.Equal(t, "missing: {{nope}}", out)
}
