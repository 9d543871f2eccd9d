package plan

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/planexec/planexec/internal/types"
)

// ParseYAML parses a plan document from YAML bytes and applies load-time
// defaults. The returned plan is in draft status; run Validator.Validate
// before handing it to the engine.
func ParseYAML(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, types.WrapError(types.PLAN_VALIDATION_FAILED, "failed to parse plan YAML", err)
	}

	Normalize(&p)
	return &p, nil
}

// LoadYAMLFile reads and parses a plan document from the given path.
func LoadYAMLFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.PLAN_VALIDATION_FAILED, "failed to read plan file", err)
	}
	return ParseYAML(data)
}

// ToYAML serializes the plan back to YAML.
func (p *Plan) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, types.WrapError(types.PLAN_VALIDATION_FAILED, "failed to marshal plan YAML", err)
	}
	return data, nil
}
