package analysis

import (
	"sync"

	"rcie/domain/graph"
)

// Selection is the set of node-selection fields the analysis forms read from.
type Selection struct {
	ObservationNode   string       `json:"observation_node"`
	SecondObservation OptionalNode `json:"second_observation_node"`
	InterventionNode  string       `json:"intervention_node"`
	SimulationNode    string       `json:"simulation_node"`
	TargetNode        string       `json:"target_node"`
	ControlNode       string       `json:"control_node"`
}

// SelectionState keeps every selection field pointing at a node that exists in
// the current registry. It is driven by graph replacement events.
type SelectionState struct {
	mu    sync.RWMutex
	sel   Selection
	nodes map[string]struct{}
	first string
}

// NewSelectionState creates an empty selection and, when store is non-nil,
// subscribes it to the store's replacement events.
func NewSelectionState(store *graph.Store) *SelectionState {
	s := &SelectionState{nodes: map[string]struct{}{}}
	if store != nil {
		s.reconcile(store.CurrentNodes())
		store.Subscribe(func(ev graph.Replaced) { s.reconcile(ev.Nodes) })
	}
	return s
}

// Current returns a copy of the selection.
func (s *SelectionState) Current() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel
}

// Update applies fn to a copy of the selection and stores it if every field
// still references a known node. Unknown nodes are reset like stale ones.
func (s *SelectionState) Update(fn func(*Selection)) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.sel
	fn(&next)
	s.sel = s.normalize(next)
	return s.sel
}

func (s *SelectionState) reconcile(nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
	s.first = ""
	if len(nodes) > 0 {
		s.first = nodes[0]
	}
	s.sel = s.normalize(s.sel)
}

func (s *SelectionState) normalize(sel Selection) Selection {
	fix := func(n string) string {
		if _, ok := s.nodes[n]; ok {
			return n
		}
		return s.first
	}
	sel.ObservationNode = fix(sel.ObservationNode)
	sel.InterventionNode = fix(sel.InterventionNode)
	sel.SimulationNode = fix(sel.SimulationNode)
	sel.TargetNode = fix(sel.TargetNode)
	sel.ControlNode = fix(sel.ControlNode)

	if second, ok := sel.SecondObservation.Get(); ok {
		if _, known := s.nodes[second]; !known || second == sel.ObservationNode {
			sel.SecondObservation = None()
		}
	}
	return sel
}
