package plan

import (
	"fmt"
	"os"

	"rcie/internal/errors"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Analysis kinds accepted in a plan
const (
	KindCounterfactual = "counterfactual"
	KindSimulation     = "simulation"
	KindOptimization   = "optimization"
)

// Plan is a scripted workflow session: optional upload and login, one
// discovery, optional training, then a batch of analyses.
type Plan struct {
	Name      string         `yaml:"name"`
	Dataset   string         `yaml:"dataset"`
	Upload    string         `yaml:"upload" validate:"omitempty,file"`
	Login     *LoginStep     `yaml:"login"`
	Discovery DiscoveryStep  `yaml:"discovery"`
	Training  *TrainingStep  `yaml:"training"`
	Analyses  []AnalysisStep `yaml:"analyses" validate:"dive"`
}

// LoginStep reads the password from an environment variable so plans can be
// committed without secrets.
type LoginStep struct {
	Email       string `yaml:"email" validate:"required,email"`
	PasswordEnv string `yaml:"password_env" validate:"required"`
}

type DiscoveryStep struct {
	Method  string `yaml:"method" validate:"omitempty,oneof=pc notears ges"`
	Explain bool   `yaml:"explain"`
}

type TrainingStep struct {
	Epochs int `yaml:"epochs" validate:"gte=0"`
}

// AnalysisStep is one counterfactual, simulation or optimization query.
// Values stay as text and are coerced by the request builder. Blank nodes
// fall back to the controller's current selection.
type AnalysisStep struct {
	Kind string `yaml:"kind" validate:"required,oneof=counterfactual simulation optimization"`

	ObservationNode       string `yaml:"observation_node"`
	ObservationValue      string `yaml:"observation_value" validate:"required_if=Kind counterfactual"`
	SecondObservationNode string `yaml:"second_observation_node"`
	SecondValue           string `yaml:"second_value" validate:"required_with=SecondObservationNode"`
	InterventionNode      string `yaml:"intervention_node"`
	InterventionValue     string `yaml:"intervention_value" validate:"required_if=Kind counterfactual"`

	Node  string `yaml:"node"`
	Value string `yaml:"value" validate:"required_if=Kind simulation"`

	TargetNode  string `yaml:"target_node"`
	TargetValue string `yaml:"target_value" validate:"required_if=Kind optimization"`
	ControlNode string `yaml:"control_node"`
}

// Label names the step in reports.
func (a AnalysisStep) Label(index int) string {
	return fmt.Sprintf("%s #%d", a.Kind, index+1)
}

// LoadFile reads and validates a YAML plan.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read plan %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.InvalidInput("parse plan yaml: " + err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan's struct constraints.
func (p *Plan) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return errors.ValidationError(fmt.Sprintf("plan: %s failed %s", verrs[0].Namespace(), verrs[0].Tag()))
		}
		return errors.ValidationError("plan: " + err.Error())
	}
	return nil
}
