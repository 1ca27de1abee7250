package analysis

import (
	"fmt"
	"math"
	"strings"

	"rcie/domain/core"
)

// Kind discriminates analysis request variants.
type Kind string

const (
	KindCounterfactual Kind = "counterfactual"
	KindSimulation     Kind = "simulation"
	KindOptimization   Kind = "optimization"
)

// SimulationSampleCount is the fixed number of draws per simulation.
const SimulationSampleCount = 1000

// Assignment maps node identifiers to numeric values.
type Assignment map[string]float64

// Nodes lists the assignment's keys.
func (a Assignment) Nodes() []string {
	out := make([]string, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	return out
}

// Request is implemented by every analysis request variant.
type Request interface {
	Kind() Kind
	// Nodes returns every node the request references.
	Nodes() []string
	// Validate checks the variant's shape, independent of any registry.
	Validate() error
}

// CounterfactualRequest asks what an observation would have looked like under
// an intervention.
type CounterfactualRequest struct {
	Observation  Assignment `json:"observation"`
	Intervention Assignment `json:"intervention"`
}

func (CounterfactualRequest) Kind() Kind { return KindCounterfactual }

func (r CounterfactualRequest) Nodes() []string {
	return append(r.Observation.Nodes(), r.Intervention.Nodes()...)
}

func (r CounterfactualRequest) Validate() error {
	if n := len(r.Observation); n < 1 || n > 2 {
		return core.NewValidationError("observation", fmt.Sprintf("expected 1 or 2 entries, got %d", n))
	}
	if n := len(r.Intervention); n != 1 {
		return core.NewValidationError("intervention", fmt.Sprintf("expected 1 entry, got %d", n))
	}
	if err := checkAssignment("observation", r.Observation); err != nil {
		return err
	}
	return checkAssignment("intervention", r.Intervention)
}

// SimulationRequest forces one node and samples the downstream distribution.
type SimulationRequest struct {
	Intervention Assignment `json:"intervention"`
	SampleCount  int        `json:"sample_count"`
}

func (SimulationRequest) Kind() Kind { return KindSimulation }

func (r SimulationRequest) Nodes() []string { return r.Intervention.Nodes() }

func (r SimulationRequest) Validate() error {
	if n := len(r.Intervention); n != 1 {
		return core.NewValidationError("intervention", fmt.Sprintf("expected 1 entry, got %d", n))
	}
	if r.SampleCount != SimulationSampleCount {
		return core.NewValidationError("sample_count", fmt.Sprintf("must be %d", SimulationSampleCount))
	}
	return checkAssignment("intervention", r.Intervention)
}

// OptimizationRequest searches for the control value that drives the target
// node toward TargetValue.
type OptimizationRequest struct {
	TargetNode  string  `json:"target_node"`
	TargetValue float64 `json:"target_value"`
	ControlNode string  `json:"control_node"`
}

func (OptimizationRequest) Kind() Kind { return KindOptimization }

func (r OptimizationRequest) Nodes() []string { return []string{r.TargetNode, r.ControlNode} }

func (r OptimizationRequest) Validate() error {
	if strings.TrimSpace(r.TargetNode) == "" {
		return core.NewValidationError("target_node", "required")
	}
	if strings.TrimSpace(r.ControlNode) == "" {
		return core.NewValidationError("control_node", "required")
	}
	if !finite(r.TargetValue) {
		return core.NewNonNumericError("target_value", fmt.Sprint(r.TargetValue))
	}
	return nil
}

func checkAssignment(field string, a Assignment) error {
	for node, v := range a {
		if strings.TrimSpace(node) == "" {
			return core.NewValidationError(field, "node identifier is empty")
		}
		if !finite(v) {
			return core.NewNonNumericError(field+"."+node, fmt.Sprint(v))
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
