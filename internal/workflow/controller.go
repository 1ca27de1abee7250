package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
	"rcie/internal"
	"rcie/internal/errors"
	"rcie/internal/history"
	"rcie/internal/observability"
	"rcie/internal/session"
	"rcie/ports"
)

// ExplanationTopic is the context string sent with every explanation request.
const ExplanationTopic = "System Simulation"

// FallbackNarrative replaces an explanation the gateway could not produce.
const FallbackNarrative = "Could not generate explanation at this time."

// TrainedMessage is recorded after a successful fit when the gateway sends none.
const TrainedMessage = "Neural SCM model trained successfully"

// Recommended training epoch bounds. Values outside are allowed but logged.
const (
	MinRecommendedEpochs = 50
	MaxRecommendedEpochs = 500
	DefaultEpochs        = 100
)

// DiscoveryMethods lists the supported discovery algorithms.
var DiscoveryMethods = []string{"pc", "notears", "ges"}

// DefaultDiscoveryMethod is used when no method is given.
const DefaultDiscoveryMethod = "pc"

// Options configures a Controller
type Options struct {
	Gateway  ports.InferenceGateway
	History  ports.HistoryStore
	Logger   *internal.Logger
	Metrics  *observability.Collector
	Dataset  core.DatasetRef
	Ordering Ordering
}

// Controller sequences discovery, training and analysis against the
// inference gateway and applies results to the graph store, the selection
// and the history cache. Every exported method is safe for concurrent use.
type Controller struct {
	gateway  ports.InferenceGateway
	logger   *internal.Logger
	metrics  *observability.Collector
	ordering Ordering

	graph     *graph.Store
	selection *analysis.SelectionState
	builder   *analysis.Builder
	history   *history.Cache
	phases    *tracker
	seq       sequencer

	mu                 sync.RWMutex
	dataset            core.DatasetRef
	method             string
	explanation        *Explanation
	trainingMessage    string
	uploadMessage      string
	session            *session.Session
	lastCounterfactual *CounterfactualOutcome
	lastSimulation     *SimulationOutcome
	lastOptimization   *OptimizationOutcome

	unsubscribe func()
}

// New creates a controller with an empty graph
func New(opts Options) (*Controller, error) {
	if opts.Gateway == nil {
		return nil, errors.ConfigInvalid("workflow controller requires an inference gateway")
	}
	if opts.History == nil {
		return nil, errors.ConfigInvalid("workflow controller requires a history store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	dataset := opts.Dataset
	if dataset.IsEmpty() {
		dataset = core.DefaultDataset
	}
	ordering := opts.Ordering
	if ordering == "" {
		ordering = OrderingResolved
	}

	store := graph.NewStore()
	c := &Controller{
		gateway:   opts.Gateway,
		logger:    logger,
		metrics:   opts.Metrics,
		ordering:  ordering,
		graph:     store,
		selection: analysis.NewSelectionState(store),
		builder:   analysis.NewBuilder(store),
		history:   history.NewCache(opts.History, logger, opts.Metrics),
		phases:    newTracker(),
		dataset:   dataset,
	}
	c.unsubscribe = store.Subscribe(c.onGraphReplaced)
	return c, nil
}

// Close detaches the controller from its graph store.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Graph exposes the graph store for read access and subscriptions.
func (c *Controller) Graph() *graph.Store { return c.graph }

// Selection exposes the node selection state.
func (c *Controller) Selection() *analysis.SelectionState { return c.selection }

// Busy reports whether phase has a call in flight. A second call of a busy
// phase other than discovery is rejected with core.ErrPhaseBusy.
func (c *Controller) Busy(phase Phase) bool { return c.phases.busy(phase) }

// PhaseStatus returns the current status of phase.
func (c *Controller) PhaseStatus(phase Phase) PhaseStatus { return c.phases.get(phase) }

// Ordering reports how overlapping discovery responses are resolved.
func (c *Controller) Ordering() Ordering { return c.ordering }

// Dataset returns the active dataset reference.
func (c *Controller) Dataset() core.DatasetRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataset
}

// UseDataset switches the active dataset without uploading.
func (c *Controller) UseDataset(ref core.DatasetRef) error {
	if ref.IsEmpty() {
		return core.NewValidationError("dataset", "required")
	}
	c.mu.Lock()
	c.dataset = ref
	c.mu.Unlock()
	return nil
}

func (c *Controller) onGraphReplaced(ev graph.Replaced) {
	c.mu.Lock()
	c.explanation = nil
	c.mu.Unlock()
	c.metrics.RecordGraph(len(ev.Nodes), ev.Version)
}

// run tracks one dispatched call of phase. Only discovery may overlap
// itself; the ordering policy resolves its concurrent responses.
func (c *Controller) run(ctx context.Context, phase Phase, fn func(ctx context.Context) error) error {
	if !c.phases.tryBegin(phase, phase != PhaseDiscovery) {
		err := fmt.Errorf("%w: %s", core.ErrPhaseBusy, phase)
		c.metrics.RecordPhase(string(phase), "rejected", 0)
		c.logger.Warn("[Workflow] %s rejected: %v", phase, err)
		return err
	}

	start := time.Now()
	err := fn(session.NewContext(ctx, c.Session()))
	c.phases.finish(phase, err)

	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordPhase(string(phase), "failed", duration)
		c.logger.Error("[Workflow] %s failed after %s: %v", phase, duration, err)
		return err
	}
	c.metrics.RecordPhase(string(phase), "succeeded", duration)
	c.logger.Debug("[Workflow] %s succeeded in %s", phase, duration)
	return nil
}

// reject records a request that failed validation and was never dispatched.
func (c *Controller) reject(phase Phase, err error) error {
	c.phases.fail(phase, err)
	c.metrics.RecordPhase(string(phase), "rejected", 0)
	c.logger.Warn("[Workflow] %s rejected: %v", phase, err)
	return err
}

// DiscoveryOutcome describes one discovery call
type DiscoveryOutcome struct {
	Edges   []graph.Edge `json:"edges"`
	Nodes   []string     `json:"nodes"`
	Method  string       `json:"method"`
	Version uint64       `json:"version"`
	// Fingerprint identifies the edge set independent of edge order.
	Fingerprint core.Hash `json:"fingerprint"`
	// Applied is false when a newer discovery had already been applied.
	Applied bool `json:"applied"`
}

// RunDiscovery infers a graph from dataset and replaces the current one. An
// empty dataset uses the active dataset and an empty method uses the default.
func (c *Controller) RunDiscovery(ctx context.Context, dataset core.DatasetRef, method string) (*DiscoveryOutcome, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = DefaultDiscoveryMethod
	}
	if !validMethod(method) {
		return nil, c.reject(PhaseDiscovery, fmt.Errorf("%w: %q (want one of %s)", core.ErrInvalidMethod, method, strings.Join(DiscoveryMethods, ", ")))
	}
	if dataset.IsEmpty() {
		dataset = c.Dataset()
	}

	seq := c.seq.Next()
	var outcome *DiscoveryOutcome
	err := c.run(ctx, PhaseDiscovery, func(ctx context.Context) error {
		res, err := c.gateway.Discover(ctx, dataset, method)
		if err != nil {
			return err
		}

		applied, err := c.seq.tryApply(c.ordering, seq, func() error {
			return c.graph.ReplaceGraph(res.Edges)
		})
		if err != nil {
			return errors.ExternalServiceError("gateway discover", err)
		}

		snap := c.graph.Snapshot()
		outcome = &DiscoveryOutcome{Edges: snap.Edges, Nodes: snap.Nodes, Method: method, Version: snap.Version, Fingerprint: snap.Fingerprint, Applied: applied}
		if !applied {
			c.logger.Info("[Workflow] discarded discovery #%d (%s): a newer discovery was already applied", seq, method)
			outcome.Edges, outcome.Nodes = res.Edges, nil
			return nil
		}

		c.mu.Lock()
		c.method = method
		c.mu.Unlock()
		c.logger.Info("[Workflow] discovery #%d (%s) applied: %d edges, %d nodes, graph v%d (%s)",
			seq, method, len(snap.Edges), len(snap.Nodes), snap.Version, snap.Fingerprint.Short())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func validMethod(method string) bool {
	for _, m := range DiscoveryMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Explanation is a narrative of the current graph
type Explanation struct {
	Narrative string `json:"narrative"`
	// Degraded marks the fixed fallback narrative.
	Degraded     bool   `json:"degraded,omitempty"`
	GraphVersion uint64 `json:"graph_version"`
}

// RequestExplanation narrates edges, or the current graph when edges is nil.
// It never fails: a gateway error yields the fallback narrative.
func (c *Controller) RequestExplanation(ctx context.Context, edges []graph.Edge) Explanation {
	snap := c.graph.Snapshot()
	if edges == nil {
		edges = snap.Edges
	}

	fallback := Explanation{Narrative: FallbackNarrative, Degraded: true, GraphVersion: snap.Version}
	exp := Explanation{GraphVersion: snap.Version}
	// The fallback is a degraded success, so the phase still succeeds.
	err := c.run(ctx, PhaseExplanation, func(ctx context.Context) error {
		text, err := c.gateway.Explain(ctx, edges, ExplanationTopic)
		if err != nil {
			c.logger.Warn("[Workflow] explanation unavailable, using fallback: %v", err)
			c.metrics.RecordDegraded(string(PhaseExplanation))
			exp = fallback
			return nil
		}
		exp.Narrative = text
		return nil
	})
	if err != nil {
		// Another explanation is in flight and will store its own result.
		c.metrics.RecordDegraded(string(PhaseExplanation))
		return fallback
	}

	// A discovery that landed meanwhile has already cleared the explanation;
	// do not attach this one to the newer graph.
	c.mu.Lock()
	if c.graph.Version() == snap.Version {
		c.explanation = &exp
	}
	c.mu.Unlock()
	return exp
}

// Explanation returns the explanation of the current graph, if any.
func (c *Controller) Explanation() (Explanation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.explanation == nil {
		return Explanation{}, false
	}
	return *c.explanation, true
}

// RunTraining fits the structural model on edges. Empty edges or a
// non-positive epoch count are rejected before dispatch.
func (c *Controller) RunTraining(ctx context.Context, dataset core.DatasetRef, edges []graph.Edge, epochs int) (string, error) {
	if len(edges) == 0 {
		return "", c.reject(PhaseTraining, core.ErrEmptyGraph)
	}
	if epochs < 1 {
		return "", c.reject(PhaseTraining, fmt.Errorf("%w: got %d", core.ErrInvalidEpochs, epochs))
	}
	if epochs < MinRecommendedEpochs || epochs > MaxRecommendedEpochs {
		c.logger.Warn("[Workflow] training with %d epochs, outside the recommended range [%d, %d]",
			epochs, MinRecommendedEpochs, MaxRecommendedEpochs)
	}
	if dataset.IsEmpty() {
		dataset = c.Dataset()
	}

	var message string
	err := c.run(ctx, PhaseTraining, func(ctx context.Context) error {
		res, err := c.gateway.FitSCM(ctx, dataset, edges, epochs)
		if err != nil {
			return err
		}
		message = res.Message
		if message == "" {
			message = TrainedMessage
		}
		return nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.trainingMessage = "Training failed: " + err.Error()
		return "", err
	}
	c.trainingMessage = message
	return message, nil
}

// TrainingMessage is the transient outcome of the last training call.
func (c *Controller) TrainingMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trainingMessage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
