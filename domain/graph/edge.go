package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"rcie/domain/core"
)

// Edge is a directed cause → effect pair.
type Edge struct {
	Cause  string
	Effect string
}

// NewEdge builds an edge, rejecting blank endpoints.
func NewEdge(cause, effect string) (Edge, error) {
	e := Edge{Cause: cause, Effect: effect}
	if err := e.Validate(); err != nil {
		return Edge{}, err
	}
	return e, nil
}

// Validate checks that both endpoints are non-empty identifiers.
func (e Edge) Validate() error {
	if strings.TrimSpace(e.Cause) == "" || strings.TrimSpace(e.Effect) == "" {
		return fmt.Errorf("%w: [%q, %q]", core.ErrMalformedEdge, e.Cause, e.Effect)
	}
	return nil
}

func (e Edge) String() string {
	return e.Cause + " -> " + e.Effect
}

// MarshalJSON encodes the edge as a two-element array, the gateway's wire shape.
func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Cause, e.Effect})
}

// UnmarshalJSON accepts only two-element string arrays.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedEdge, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: expected 2 endpoints, got %d", core.ErrMalformedEdge, len(pair))
	}
	e.Cause, e.Effect = pair[0], pair[1]
	return nil
}

// FromPairs converts raw [cause, effect] pairs, failing on the first malformed one.
func FromPairs(pairs [][]string) ([]Edge, error) {
	edges := make([]Edge, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: edge %d has %d endpoints", core.ErrMalformedEdge, i, len(p))
		}
		e, err := NewEdge(p[0], p[1])
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// Pairs converts edges back to the raw wire representation.
func Pairs(edges []Edge) [][]string {
	out := make([][]string, len(edges))
	for i, e := range edges {
		out[i] = []string{e.Cause, e.Effect}
	}
	return out
}

// Fingerprint hashes an edge set independently of edge order and duplicates.
func Fingerprint(edges []Edge) core.Hash {
	keys := make([]string, 0, len(edges))
	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		keys = append(keys, e.Cause+"\x00"+e.Effect)
	}
	sort.Strings(keys)
	return core.NewHash([]byte(strings.Join(keys, "\n")))
}
