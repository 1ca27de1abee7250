package analysis

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"rcie/domain/core"
)

// Registry answers whether a node exists in the current graph.
type Registry interface {
	HasNode(node string) bool
}

// OptionalNode is a node selection that may be absent.
type OptionalNode struct {
	name string
	set  bool
}

// Some returns a present node. A blank name yields an absent node.
func Some(name string) OptionalNode {
	if strings.TrimSpace(name) == "" {
		return OptionalNode{}
	}
	return OptionalNode{name: name, set: true}
}

// None returns an absent node.
func None() OptionalNode { return OptionalNode{} }

// Get returns the node name and whether it is present.
func (o OptionalNode) Get() (string, bool) { return o.name, o.set }

// IsSet reports presence.
func (o OptionalNode) IsSet() bool { return o.set }

func (o OptionalNode) String() string {
	if !o.set {
		return "<none>"
	}
	return o.name
}

// MarshalJSON encodes an absent node as null.
func (o OptionalNode) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.name)
}

// UnmarshalJSON accepts null, "" or a node name.
func (o *OptionalNode) UnmarshalJSON(data []byte) error {
	var name *string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == nil {
		*o = None()
		return nil
	}
	*o = Some(*name)
	return nil
}

// Builder assembles validated analysis requests from raw form input. Values
// arrive as text and are coerced here; nodes must exist in the registry.
type Builder struct {
	registry Registry
}

// NewBuilder creates a builder bound to a node registry.
func NewBuilder(registry Registry) *Builder {
	return &Builder{registry: registry}
}

// BuildCounterfactual builds a counterfactual request with one or two observed
// nodes. The intervention node may coincide with an observed node.
func (b *Builder) BuildCounterfactual(node1, val1 string, node2 OptionalNode, val2 string, interventionNode, interventionVal string) (CounterfactualRequest, error) {
	if err := b.checkNode("observation node", node1); err != nil {
		return CounterfactualRequest{}, err
	}
	v1, err := ParseValue("observation value", val1)
	if err != nil {
		return CounterfactualRequest{}, err
	}
	observation := Assignment{node1: v1}

	if second, ok := node2.Get(); ok {
		if second == node1 {
			return CounterfactualRequest{}, core.ErrDuplicateObservation
		}
		if err := b.checkNode("second observation node", second); err != nil {
			return CounterfactualRequest{}, err
		}
		v2, err := ParseValue("second observation value", val2)
		if err != nil {
			return CounterfactualRequest{}, err
		}
		observation[second] = v2
	}

	if err := b.checkNode("intervention node", interventionNode); err != nil {
		return CounterfactualRequest{}, err
	}
	iv, err := ParseValue("intervention value", interventionVal)
	if err != nil {
		return CounterfactualRequest{}, err
	}

	return CounterfactualRequest{
		Observation:  observation,
		Intervention: Assignment{interventionNode: iv},
	}, nil
}

// BuildSimulation builds a do-intervention simulation with the fixed sample count.
func (b *Builder) BuildSimulation(node, val string) (SimulationRequest, error) {
	if err := b.checkNode("intervention node", node); err != nil {
		return SimulationRequest{}, err
	}
	v, err := ParseValue("intervention value", val)
	if err != nil {
		return SimulationRequest{}, err
	}
	return SimulationRequest{
		Intervention: Assignment{node: v},
		SampleCount:  SimulationSampleCount,
	}, nil
}

// BuildOptimization builds a goal-seek request. Target and control may be the
// same node.
func (b *Builder) BuildOptimization(targetNode, targetValue, controlNode string) (OptimizationRequest, error) {
	if err := b.checkNode("target node", targetNode); err != nil {
		return OptimizationRequest{}, err
	}
	v, err := ParseValue("target value", targetValue)
	if err != nil {
		return OptimizationRequest{}, err
	}
	if err := b.checkNode("control node", controlNode); err != nil {
		return OptimizationRequest{}, err
	}
	return OptimizationRequest{
		TargetNode:  targetNode,
		TargetValue: v,
		ControlNode: controlNode,
	}, nil
}

// CheckNodes verifies that every node referenced by req is in the registry.
func (b *Builder) CheckNodes(req Request) error {
	for _, n := range req.Nodes() {
		if err := b.checkNode(string(req.Kind())+" node", n); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) checkNode(field, node string) error {
	if strings.TrimSpace(node) == "" {
		return core.NewValidationError(field, "required")
	}
	if b.registry == nil || !b.registry.HasNode(node) {
		return core.NewUnknownNodeError(field, node)
	}
	return nil
}

// ParseValue coerces form text to a finite float64.
func ParseValue(field, raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, core.NewNonNumericError(field, raw)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, core.NewNonNumericError(field, raw)
	}
	return v, nil
}
