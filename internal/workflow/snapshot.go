package workflow

import (
	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
	domainhistory "rcie/domain/history"
)

// Snapshot is a read-only view of everything the controller holds
type Snapshot struct {
	Dataset         core.DatasetRef        `json:"dataset"`
	Method          string                 `json:"method,omitempty"`
	Ordering        Ordering               `json:"ordering"`
	GraphVersion    uint64                 `json:"graph_version"`
	Fingerprint     core.Hash              `json:"fingerprint"`
	Edges           []graph.Edge           `json:"edges"`
	Nodes           []string               `json:"nodes"`
	Selection       analysis.Selection     `json:"selection"`
	Phases          map[Phase]PhaseStatus  `json:"phases"`
	Explanation     *Explanation           `json:"explanation,omitempty"`
	TrainingMessage string                 `json:"training_message,omitempty"`
	UploadMessage   string                 `json:"upload_message,omitempty"`
	User            string                 `json:"user,omitempty"`
	History         []domainhistory.Entry  `json:"history"`
	HistoryError    string                 `json:"history_error,omitempty"`
	Counterfactual  *CounterfactualOutcome `json:"counterfactual,omitempty"`
	Simulation      *SimulationOutcome     `json:"simulation,omitempty"`
	Optimization    *OptimizationOutcome   `json:"optimization,omitempty"`
}

// Snapshot captures the controller state. The graph, selection and result
// slots are each read under their own lock.
func (c *Controller) Snapshot() Snapshot {
	g := c.graph.Snapshot()
	snap := Snapshot{
		Ordering:     c.ordering,
		GraphVersion: g.Version,
		Fingerprint:  g.Fingerprint,
		Edges:        g.Edges,
		Nodes:        g.Nodes,
		Selection:    c.selection.Current(),
		Phases:       c.phases.snapshot(),
		History:      c.history.Entries(),
	}
	if err := c.history.LastError(); err != nil {
		snap.HistoryError = err.Error()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	snap.Dataset = c.dataset
	snap.Method = c.method
	snap.TrainingMessage = c.trainingMessage
	snap.UploadMessage = c.uploadMessage
	if c.explanation != nil {
		e := *c.explanation
		snap.Explanation = &e
	}
	if c.session != nil {
		snap.User = c.session.Email()
	}
	snap.Counterfactual = c.lastCounterfactual
	snap.Simulation = c.lastSimulation
	snap.Optimization = c.lastOptimization
	return snap
}
