package graph

import (
	"sort"
	"sync"

	"rcie/domain/core"
)

// Replaced is published after every successful ReplaceGraph.
type Replaced struct {
	Version     uint64    `json:"version"`
	Edges       []Edge    `json:"edges"`
	Nodes       []string  `json:"nodes"`
	Fingerprint core.Hash `json:"fingerprint"`
}

// Listener receives graph replacement events. Listeners run synchronously on
// the replacing goroutine, after the store lock has been released.
type Listener func(Replaced)

// Store holds the current causal graph and the node registry derived from it.
// The edge set is only ever replaced wholesale.
type Store struct {
	// replaceMu serializes writers so events are published in version order.
	replaceMu sync.Mutex

	mu          sync.RWMutex
	edges       []Edge
	nodes       []string
	version     uint64
	fingerprint core.Hash

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		edges:       []Edge{},
		nodes:       []string{},
		fingerprint: Fingerprint(nil),
		listeners:   make(map[int]Listener),
	}
}

// ReplaceGraph validates every edge, then swaps the edge set and recomputes the
// registry. On validation failure the previous graph is left untouched.
// Listeners must not call ReplaceGraph.
func (s *Store) ReplaceGraph(edges []Edge) error {
	next := make([]Edge, 0, len(edges))
	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		next = append(next, e)
	}
	nodes := deriveNodes(next)
	fingerprint := Fingerprint(next)

	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()

	s.mu.Lock()
	s.edges = next
	s.nodes = nodes
	s.version++
	s.fingerprint = fingerprint
	event := Replaced{
		Version:     s.version,
		Edges:       cloneEdges(next),
		Nodes:       cloneStrings(nodes),
		Fingerprint: fingerprint,
	}
	s.mu.Unlock()

	s.publish(event)
	return nil
}

// CurrentNodes returns the memoized node registry.
func (s *Store) CurrentNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStrings(s.nodes)
}

// HasNode reports whether node is in the current registry.
func (s *Store) HasNode(node string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.SearchStrings(s.nodes, node)
	return i < len(s.nodes) && s.nodes[i] == node
}

// Edges returns a copy of the current edge set.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEdges(s.edges)
}

// Version counts successful replacements; zero means no graph yet.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns the edges, nodes, version and fingerprint under a single lock.
func (s *Store) Snapshot() Replaced {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Replaced{
		Version:     s.version,
		Edges:       cloneEdges(s.edges),
		Nodes:       cloneStrings(s.nodes),
		Fingerprint: s.fingerprint,
	}
}

// Subscribe registers fn for replacement events and returns its cancel func.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) publish(event Replaced) {
	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

func deriveNodes(edges []Edge) []string {
	set := make(map[string]struct{}, len(edges)*2)
	for _, e := range edges {
		set[e.Cause] = struct{}{}
		set[e.Effect] = struct{}{}
	}
	nodes := make([]string, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

func cloneEdges(in []Edge) []Edge {
	out := make([]Edge, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
