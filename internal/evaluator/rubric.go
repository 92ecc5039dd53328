package evaluator

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rubric describes what the reasoning service should score records against.
type Rubric struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Criteria    []Criterion `yaml:"criteria"`
}

// Criterion is one weighted scoring dimension.
type Criterion struct {
	Name        string  `yaml:"name"`
	Weight      float64 `yaml:"weight"`
	Description string  `yaml:"description"`
}

// LoadRubric reads and validates a YAML rubric file.
func LoadRubric(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rubric: read %s", path)
	}
	return ParseRubric(data)
}

// ParseRubric parses YAML rubric bytes.
func ParseRubric(data []byte) (*Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "rubric: parse yaml")
	}
	if r.Name == "" {
		return nil, eris.New("rubric: missing name")
	}
	if len(r.Criteria) == 0 {
		return nil, eris.New("rubric: no criteria")
	}
	for i, c := range r.Criteria {
		if c.Name == "" {
			return nil, eris.Errorf("rubric: criterion %d missing name", i)
		}
	}
	return &r, nil
}

// SystemPrompt renders the rubric into the evaluator's system prompt,
// fixing the structured-output contract the stream parser expects.
func (r *Rubric) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You score prospective companies against the %q rubric.\n", r.Name)
	if r.Description != "" {
		b.WriteString(r.Description)
		b.WriteString("\n")
	}
	b.WriteString("\nCriteria:\n")
	for _, c := range r.Criteria {
		fmt.Fprintf(&b, "- %s", c.Name)
		if c.Weight > 0 {
			fmt.Fprintf(&b, " (weight %.2f)", c.Weight)
		}
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with only a JSON object: " +
		`{"score": <0-100>, "justification": "<one or two sentences>"}`)
	return b.String()
}
