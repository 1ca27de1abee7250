package gateway

import (
	"context"
	"fmt"
	"sort"

	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
	"rcie/ports"
)

// Discover asks the gateway to infer a causal graph from the dataset.
func (c *Client) Discover(ctx context.Context, dataset core.DatasetRef, method string) (*ports.DiscoveryResult, error) {
	var resp discoverResponse
	req := discoverRequest{DatasetPath: dataset.String(), Method: method}
	if err := c.postJSON(ctx, "discover", "/discover", req, &resp); err != nil {
		return nil, err
	}
	if resp.Edges == nil {
		return nil, remoteProtocolError("discover", core.NewMissingFieldError("discover", "edges"))
	}

	// A bad edge here is the service's fault, so it is reported as remote.
	edges, err := graph.FromPairs(*resp.Edges)
	if err != nil {
		return nil, remoteProtocolError("discover", fmt.Errorf("%w: discover returned malformed edges (%s)", core.ErrRemote, err.Error()))
	}

	method = resp.Method
	if method == "" {
		method = req.Method
	}
	return &ports.DiscoveryResult{Edges: edges, Nodes: resp.Nodes, Method: method}, nil
}

// Explain returns the gateway's narrative for the graph.
func (c *Client) Explain(ctx context.Context, edges []graph.Edge, topic string) (string, error) {
	var resp explainResponse
	if err := c.postJSON(ctx, "explain", "/explain", explainRequest{Edges: nonNilEdges(edges), Context: topic}, &resp); err != nil {
		return "", err
	}
	if resp.Narrative == nil {
		return "", remoteProtocolError("explain", core.NewMissingFieldError("explain", "narrative"))
	}
	return *resp.Narrative, nil
}

// FitSCM trains the structural causal model on the given graph.
func (c *Client) FitSCM(ctx context.Context, dataset core.DatasetRef, edges []graph.Edge, epochs int) (*ports.TrainingResult, error) {
	var resp statusResponse
	req := fitRequest{DatasetPath: dataset.String(), Edges: nonNilEdges(edges), Epochs: epochs}
	if err := c.postJSON(ctx, "fit_scm", "/fit_scm", req, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, remoteProtocolError("fit_scm", core.NewMissingFieldError("fit_scm", "status"))
	}
	return &ports.TrainingResult{Status: resp.Status, Message: resp.Message}, nil
}

// Counterfactual dispatches a counterfactual query.
func (c *Client) Counterfactual(ctx context.Context, req analysis.CounterfactualRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.CounterfactualResult, error) {
	var resp counterfactualResponse
	body := counterfactualRequest{
		Observation:  req.Observation,
		Intervention: req.Intervention,
		Edges:        nonNilEdges(edges),
		DatasetPath:  dataset.String(),
	}
	if err := c.postJSON(ctx, "counterfactual", "/counterfactual", body, &resp); err != nil {
		return nil, err
	}
	if resp.Original == nil || resp.Counterfactual == nil || resp.Delta == nil {
		return nil, remoteProtocolError("counterfactual", core.NewMissingFieldError("counterfactual", firstNil(map[string]nullableValues{
			"original":       resp.Original,
			"counterfactual": resp.Counterfactual,
			"delta":          resp.Delta,
		})))
	}

	original, m1 := resp.Original.split()
	counterfactual, m2 := resp.Counterfactual.split()
	delta, m3 := resp.Delta.split()
	result := &analysis.CounterfactualResult{
		Original:       original,
		Counterfactual: counterfactual,
		Delta:          delta,
		Missing:        union(m1, m2, m3),
	}
	if result.Degraded() {
		c.logger.Warn("[Gateway] counterfactual returned null values for %v", result.Missing)
	}
	return result, nil
}

// Simulate dispatches an interventional simulation.
func (c *Client) Simulate(ctx context.Context, req analysis.SimulationRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.SimulationResult, error) {
	var resp simulateResponse
	body := simulateRequest{
		Intervention: req.Intervention,
		SampleCount:  req.SampleCount,
		Edges:        nonNilEdges(edges),
		DatasetPath:  dataset.String(),
	}
	if err := c.postJSON(ctx, "simulate", "/simulate", body, &resp); err != nil {
		return nil, err
	}
	if resp.MeanOutcomes == nil {
		return nil, remoteProtocolError("simulate", core.NewMissingFieldError("simulate", "mean_outcomes"))
	}

	mean, missing := resp.MeanOutcomes.split()
	result := &analysis.SimulationResult{MeanOutcomes: mean, Missing: missing}
	// Null bounds are simply absent; Bands substitutes the mean for them.
	if resp.LowerCI != nil {
		result.LowerCI, _ = resp.LowerCI.split()
	}
	if resp.UpperCI != nil {
		result.UpperCI, _ = resp.UpperCI.split()
	}
	if result.Degraded() {
		c.logger.Warn("[Gateway] simulation result is missing values or confidence bounds")
	}
	return result, nil
}

// Optimize asks for the control value that moves the target node toward its goal.
func (c *Client) Optimize(ctx context.Context, req analysis.OptimizationRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.OptimizationResult, error) {
	var resp optimizeResponse
	body := optimizeRequest{
		TargetNode:  req.TargetNode,
		TargetValue: req.TargetValue,
		ControlNode: req.ControlNode,
		Edges:       nonNilEdges(edges),
		DatasetPath: dataset.String(),
	}
	if err := c.postJSON(ctx, "optimize", "/optimize", body, &resp); err != nil {
		return nil, err
	}
	if resp.SuggestedValue == nil {
		return nil, remoteProtocolError("optimize", core.NewMissingFieldError("optimize", "suggested_value"))
	}
	return &analysis.OptimizationResult{
		SuggestedValue:   *resp.SuggestedValue,
		PredictedOutcome: resp.PredictedOutcome,
		Message:          resp.Message,
	}, nil
}

// nonNilEdges keeps an empty graph encoded as [] rather than null.
func nonNilEdges(edges []graph.Edge) []graph.Edge {
	if edges == nil {
		return []graph.Edge{}
	}
	return edges
}

func firstNil(fields map[string]nullableValues) string {
	names := make([]string, 0, len(fields))
	for name, v := range fields {
		if v == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
