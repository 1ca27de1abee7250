package workflow

import (
	"sync"
	"time"
)

// Phase is one independently tracked step of the workflow
type Phase string

const (
	PhaseDiscovery      Phase = "discovery"
	PhaseExplanation    Phase = "explanation"
	PhaseTraining       Phase = "training"
	PhaseUpload         Phase = "upload"
	PhaseAuth           Phase = "auth"
	PhaseCounterfactual Phase = "counterfactual"
	PhaseSimulation     Phase = "simulation"
	PhaseOptimization   Phase = "optimization"
)

// Phases lists every phase in workflow order
func Phases() []Phase {
	return []Phase{
		PhaseDiscovery,
		PhaseExplanation,
		PhaseTraining,
		PhaseUpload,
		PhaseAuth,
		PhaseCounterfactual,
		PhaseSimulation,
		PhaseOptimization,
	}
}

// State is a phase's lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// PhaseStatus is a point-in-time view of one phase
type PhaseStatus struct {
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	InFlight  int       `json:"in_flight,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// tracker holds per-phase state. A phase stays Loading until every call it
// started has resolved; the state then reflects the last call to resolve.
type tracker struct {
	mu     sync.RWMutex
	phases map[Phase]*PhaseStatus
}

func newTracker() *tracker {
	t := &tracker{phases: make(map[Phase]*PhaseStatus)}
	for _, p := range Phases() {
		t.phases[p] = &PhaseStatus{State: StateIdle}
	}
	return t
}

// tryBegin moves p to Loading. An exclusive phase refuses a second call
// while one is in flight.
func (t *tracker) tryBegin(p Phase, exclusive bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status(p)
	if exclusive && s.InFlight > 0 {
		return false
	}
	s.InFlight++
	s.State = StateLoading
	s.UpdatedAt = time.Now()
	return true
}

func (t *tracker) finish(p Phase, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status(p)
	if s.InFlight > 0 {
		s.InFlight--
	}
	s.UpdatedAt = time.Now()
	if err != nil {
		s.Error = err.Error()
	} else {
		s.Error = ""
	}
	if s.InFlight > 0 {
		return
	}
	if err != nil {
		s.State = StateFailed
	} else {
		s.State = StateSucceeded
	}
}

// fail records a failure for a call that never reached Loading, such as a
// request rejected by validation.
func (t *tracker) fail(p Phase, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status(p)
	s.Error = err.Error()
	s.UpdatedAt = time.Now()
	if s.InFlight == 0 {
		s.State = StateFailed
	}
}

func (t *tracker) busy(p Phase) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phases[p] != nil && t.phases[p].InFlight > 0
}

func (t *tracker) get(p Phase) PhaseStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.phases[p]; ok {
		return *s
	}
	return PhaseStatus{State: StateIdle}
}

func (t *tracker) snapshot() map[Phase]PhaseStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Phase]PhaseStatus, len(t.phases))
	for p, s := range t.phases {
		out[p] = *s
	}
	return out
}

// status must be called with mu held.
func (t *tracker) status(p Phase) *PhaseStatus {
	s, ok := t.phases[p]
	if !ok {
		s = &PhaseStatus{State: StateIdle}
		t.phases[p] = s
	}
	return s
}
