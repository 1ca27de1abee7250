package analysis

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// CounterfactualResult is the gateway's answer to a counterfactual query.
type CounterfactualResult struct {
	Original       map[string]float64 `json:"original"`
	Counterfactual map[string]float64 `json:"counterfactual"`
	Delta          map[string]float64 `json:"delta"`
	// Missing lists nodes whose values came back null and were dropped.
	Missing []string `json:"missing,omitempty"`
}

// Degraded reports whether any value was dropped at the gateway boundary.
func (r CounterfactualResult) Degraded() bool { return len(r.Missing) > 0 }

// SimulationResult carries mean outcomes and optional 90% interval bounds.
type SimulationResult struct {
	MeanOutcomes map[string]float64 `json:"mean_outcomes"`
	LowerCI      map[string]float64 `json:"lower_ci,omitempty"`
	UpperCI      map[string]float64 `json:"upper_ci,omitempty"`
	// Missing lists nodes whose mean came back null and were dropped.
	Missing []string `json:"missing,omitempty"`
}

// Band is one node's simulated outcome with its interval.
type Band struct {
	Node  string  `json:"node"`
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	// Degraded is set when a bound was missing and the mean was substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// Bands returns per-node intervals sorted by node. A missing bound collapses to
// the mean, giving a zero-width interval rather than an error.
func (r SimulationResult) Bands() []Band {
	bands := make([]Band, 0, len(r.MeanOutcomes))
	for node, mean := range r.MeanOutcomes {
		b := Band{Node: node, Mean: mean, Lower: mean, Upper: mean}
		if lo, ok := r.LowerCI[node]; ok {
			b.Lower = lo
		} else {
			b.Degraded = true
		}
		if hi, ok := r.UpperCI[node]; ok {
			b.Upper = hi
		} else {
			b.Degraded = true
		}
		bands = append(bands, b)
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].Node < bands[j].Node })
	return bands
}

// Degraded reports whether any node lacks a mean or a bound.
func (r SimulationResult) Degraded() bool {
	if len(r.Missing) > 0 {
		return true
	}
	for _, b := range r.Bands() {
		if b.Degraded {
			return true
		}
	}
	return false
}

// OptimizationResult is the suggested control setting.
type OptimizationResult struct {
	SuggestedValue   float64  `json:"suggested_value"`
	PredictedOutcome *float64 `json:"predicted_outcome,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// DeltaSummary condenses a counterfactual delta for display.
type DeltaSummary struct {
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	LargestNode string  `json:"largest_node"`
	Largest     float64 `json:"largest"`
}

// SummarizeDelta finds the mean change and the node that moved the most.
func SummarizeDelta(delta map[string]float64) DeltaSummary {
	if len(delta) == 0 {
		return DeltaSummary{}
	}
	nodes := make([]string, 0, len(delta))
	for n := range delta {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	values := make(stats.Float64Data, 0, len(nodes))
	summary := DeltaSummary{Count: len(nodes)}
	for _, n := range nodes {
		v := delta[n]
		values = append(values, v)
		if math.Abs(v) > math.Abs(summary.Largest) || summary.LargestNode == "" {
			summary.LargestNode = n
			summary.Largest = v
		}
	}
	if mean, err := values.Mean(); err == nil {
		summary.Mean = mean
	}
	return summary
}
