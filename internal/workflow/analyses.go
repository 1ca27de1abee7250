package workflow

import (
	"context"

	"rcie/domain/analysis"
	domainhistory "rcie/domain/history"
)

// CounterfactualInput is raw form input for a counterfactual query. Blank
// nodes fall back to the current selection.
type CounterfactualInput struct {
	ObservationNode   string
	ObservationValue  string
	SecondObservation analysis.OptionalNode
	SecondValue       string
	InterventionNode  string
	InterventionValue string
}

// CounterfactualOutcome is the last counterfactual result
type CounterfactualOutcome struct {
	Request  analysis.CounterfactualRequest `json:"request"`
	Result   analysis.CounterfactualResult  `json:"result"`
	Summary  analysis.DeltaSummary          `json:"summary"`
	Degraded bool                           `json:"degraded,omitempty"`
}

// RunCounterfactual validates, dispatches and records a counterfactual query.
func (c *Controller) RunCounterfactual(ctx context.Context, in CounterfactualInput) (*CounterfactualOutcome, error) {
	sel := c.selection.Current()
	obsNode := firstNonEmpty(in.ObservationNode, sel.ObservationNode)
	intNode := firstNonEmpty(in.InterventionNode, sel.InterventionNode)

	req, err := c.builder.BuildCounterfactual(obsNode, in.ObservationValue, in.SecondObservation, in.SecondValue, intNode, in.InterventionValue)
	if err != nil {
		return nil, c.reject(PhaseCounterfactual, err)
	}
	c.selection.Update(func(s *analysis.Selection) {
		s.ObservationNode = obsNode
		s.SecondObservation = in.SecondObservation
		s.InterventionNode = intNode
	})

	edges, dataset := c.graph.Edges(), c.Dataset()
	var outcome *CounterfactualOutcome
	err = c.run(ctx, PhaseCounterfactual, func(ctx context.Context) error {
		res, err := c.gateway.Counterfactual(ctx, req, edges, dataset)
		if err != nil {
			return err
		}
		outcome = &CounterfactualOutcome{
			Request:  req,
			Result:   *res,
			Summary:  analysis.SummarizeDelta(res.Delta),
			Degraded: res.Degraded(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastCounterfactual = outcome
	c.mu.Unlock()
	if outcome.Degraded {
		c.metrics.RecordDegraded(string(PhaseCounterfactual))
	}

	c.history.Append(ctx, c.Session(), domainhistory.TypeCounterfactual,
		map[string]interface{}{
			"observation":  values(req.Observation),
			"intervention": values(req.Intervention),
		},
		map[string]interface{}{
			"original":       values(outcome.Result.Original),
			"counterfactual": values(outcome.Result.Counterfactual),
			"delta":          values(outcome.Result.Delta),
		})
	return outcome, nil
}

// SimulationOutcome is the last simulation result with display bands
type SimulationOutcome struct {
	Request  analysis.SimulationRequest `json:"request"`
	Result   analysis.SimulationResult  `json:"result"`
	Bands    []analysis.Band            `json:"bands"`
	Degraded bool                       `json:"degraded,omitempty"`
}

// RunSimulation validates, dispatches and records an interventional simulation.
// A blank node falls back to the current selection.
func (c *Controller) RunSimulation(ctx context.Context, node, value string) (*SimulationOutcome, error) {
	node = firstNonEmpty(node, c.selection.Current().SimulationNode)
	req, err := c.builder.BuildSimulation(node, value)
	if err != nil {
		return nil, c.reject(PhaseSimulation, err)
	}
	c.selection.Update(func(s *analysis.Selection) { s.SimulationNode = node })

	edges, dataset := c.graph.Edges(), c.Dataset()
	var outcome *SimulationOutcome
	err = c.run(ctx, PhaseSimulation, func(ctx context.Context) error {
		res, err := c.gateway.Simulate(ctx, req, edges, dataset)
		if err != nil {
			return err
		}
		outcome = &SimulationOutcome{
			Request:  req,
			Result:   *res,
			Bands:    res.Bands(),
			Degraded: res.Degraded(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastSimulation = outcome
	c.mu.Unlock()
	if outcome.Degraded {
		c.metrics.RecordDegraded(string(PhaseSimulation))
	}

	results := map[string]interface{}{"mean_outcomes": values(outcome.Result.MeanOutcomes)}
	if len(outcome.Result.LowerCI) > 0 {
		results["lower_ci"] = values(outcome.Result.LowerCI)
	}
	if len(outcome.Result.UpperCI) > 0 {
		results["upper_ci"] = values(outcome.Result.UpperCI)
	}
	c.history.Append(ctx, c.Session(), domainhistory.TypeSimulation,
		map[string]interface{}{"intervention": values(req.Intervention)},
		results)
	return outcome, nil
}

// OptimizationOutcome is the last optimization result
type OptimizationOutcome struct {
	Request analysis.OptimizationRequest `json:"request"`
	Result  analysis.OptimizationResult  `json:"result"`
}

// RunOptimization validates and dispatches a goal-seek query. Optimizations
// are not recorded in history. Blank nodes fall back to the selection.
func (c *Controller) RunOptimization(ctx context.Context, targetNode, targetValue, controlNode string) (*OptimizationOutcome, error) {
	sel := c.selection.Current()
	targetNode = firstNonEmpty(targetNode, sel.TargetNode)
	controlNode = firstNonEmpty(controlNode, sel.ControlNode)

	req, err := c.builder.BuildOptimization(targetNode, targetValue, controlNode)
	if err != nil {
		return nil, c.reject(PhaseOptimization, err)
	}
	c.selection.Update(func(s *analysis.Selection) {
		s.TargetNode = targetNode
		s.ControlNode = controlNode
	})

	edges, dataset := c.graph.Edges(), c.Dataset()
	var outcome *OptimizationOutcome
	err = c.run(ctx, PhaseOptimization, func(ctx context.Context) error {
		res, err := c.gateway.Optimize(ctx, req, edges, dataset)
		if err != nil {
			return err
		}
		outcome = &OptimizationOutcome{Request: req, Result: *res}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastOptimization = outcome
	c.mu.Unlock()
	return outcome, nil
}

// values converts a numeric map into a JSON-friendly history snapshot.
func values[M ~map[string]float64](m M) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
