package evaluator

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rubricYAML = `
name: acquisition fit
description: Fit for a lower-middle-market roll-up.
criteria:
  - name: size
    weight: 0.4
    description: 50-500 employees
  - name: industry
    weight: 0.6
    description: light manufacturing or distribution
`

func TestParseRubric(t *testing.T) {
	r, err := ParseRubric([]byte(rubricYAML))
	require.NoError(t, err)

	assert.Equal(t, "acquisition fit", r.Name)
	require.Len(t, r.Criteria, 2)
	assert.Equal(t, 0.4, r.Criteria[0].Weight)
}

func TestParseRubricValidation(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing name", "criteria:\n  - name: size\n"},
		{"no criteria", "name: fit\n"},
		{"unnamed criterion", "name: fit\ncriteria:\n  - weight: 1.0\n"},
		{"bad yaml", "name: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRubric([]byte(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestLoadRubric(t *testing.T) {
	path := t.TempDir() + "/rubric.yaml"
	require.NoError(t, os.WriteFile(path, []byte(rubricYAML), 0o644))

	r, err := LoadRubric(path)
	require.NoError(t, err)
	assert.Equal(t, "acquisition fit", r.Name)

	_, err = LoadRubric(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}

func TestSystemPromptMentionsContract(t *testing.T) {
	prompt := testRubric().SystemPrompt()
	assert.Contains(t, prompt, "acquisition fit")
	assert.Contains(t, prompt, "size")
	assert.Contains(t, prompt, `"score"`)
	assert.Contains(t, prompt, "justification")
}
