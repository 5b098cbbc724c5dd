package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// planFile is the on-disk shape of a plan.
type planFile struct {
	Description string          `yaml:"description"`
	Steps       []ExecutionStep `yaml:"steps"`
}

// LoadPlanFile reads a YAML plan. Dependencies and Parallel are derived from
// the steps; the file cannot set them directly.
func LoadPlanFile(path string) (OrchestrationPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OrchestrationPlan{}, fmt.Errorf("reading plan file: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan document.
func ParsePlan(data []byte) (OrchestrationPlan, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return OrchestrationPlan{}, fmt.Errorf("parsing plan: %w", err)
	}
	if len(f.Steps) == 0 {
		return OrchestrationPlan{}, fmt.Errorf("orchestrator: %w: plan has no steps", ErrInvalidPlan)
	}
	return NewPlan(f.Description, f.Steps), nil
}
