package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
	"rcie/domain/history"
	"rcie/internal/errors"
	"rcie/internal/observability"
	"rcie/internal/session"
	"rcie/internal/testkit"
	"rcie/ports"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctrl    *Controller
	gw      *testkit.MockGateway
	store   *testkit.MockHistoryStore
	metrics *observability.Collector
}

func newFixture(t *testing.T, ordering Ordering) *fixture {
	t.Helper()
	f := &fixture{
		gw:      &testkit.MockGateway{},
		store:   &testkit.MockHistoryStore{},
		metrics: observability.NewCollector("rcie_test"),
	}
	ctrl, err := New(Options{
		Gateway:  f.gw,
		History:  f.store,
		Metrics:  f.metrics,
		Ordering: ordering,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	f.ctrl = ctrl
	return f
}

func mustEdges(t *testing.T, pairs ...[2]string) []graph.Edge {
	t.Helper()
	out := make([]graph.Edge, 0, len(pairs))
	for _, p := range pairs {
		e, err := graph.NewEdge(p[0], p[1])
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

// discover loads a graph through the controller using a one-shot mock.
func (f *fixture) discover(t *testing.T, edges []graph.Edge) {
	t.Helper()
	f.gw.On("Discover", mock.Anything, mock.Anything, "pc").
		Return(&ports.DiscoveryResult{Edges: edges}, nil).Once()
	_, err := f.ctrl.RunDiscovery(context.Background(), "", "pc")
	require.NoError(t, err)
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.gw.On("Login", mock.Anything, "analyst@example.com", "pw").
		Return(&ports.AuthResult{Status: "success", Token: testkit.FakeToken}, nil).Once()
	f.store.On("List", mock.Anything, "analyst@example.com").Return([]history.Entry{}, nil).Once()
	_, err := f.ctrl.Login(context.Background(), "analyst@example.com", "pw")
	require.NoError(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{History: &testkit.MockHistoryStore{}})
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
	_, err = New(Options{Gateway: &testkit.MockGateway{}})
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, core.DefaultDataset, f.ctrl.Dataset())
	assert.Equal(t, OrderingResolved, f.ctrl.Ordering())
	for _, p := range Phases() {
		assert.Equal(t, StateIdle, f.ctrl.PhaseStatus(p).State)
	}
}

func TestDiscovery_DerivesNodesAndDefaultSelection(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}, [2]string{"B", "C"}))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, []string{"A", "B", "C"}, snap.Nodes)
	assert.Equal(t, uint64(1), snap.GraphVersion)
	assert.Equal(t, graph.Fingerprint(mustEdges(t, [2]string{"B", "C"}, [2]string{"A", "B"})), snap.Fingerprint)
	assert.Equal(t, "pc", snap.Method)
	assert.Equal(t, "A", snap.Selection.ObservationNode)
	assert.Equal(t, "A", snap.Selection.InterventionNode)
	assert.Equal(t, "A", snap.Selection.SimulationNode)
	assert.False(t, snap.Selection.SecondObservation.IsSet())
	assert.Equal(t, StateSucceeded, snap.Phases[PhaseDiscovery].State)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.GraphNodes))
}

func TestDiscovery_UsesActiveDataset(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	require.NoError(t, f.ctrl.UseDataset("uploads/shop.csv"))
	f.gw.On("Discover", mock.Anything, core.DatasetRef("uploads/shop.csv"), "ges").
		Return(&ports.DiscoveryResult{Edges: mustEdges(t, [2]string{"x", "y"})}, nil).Once()

	out, err := f.ctrl.RunDiscovery(context.Background(), "", " GES ")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, "ges", out.Method)
	f.gw.AssertExpectations(t)
}

func TestDiscovery_RejectsUnknownMethod(t *testing.T) {
	f := newFixture(t, OrderingResolved)

	_, err := f.ctrl.RunDiscovery(context.Background(), "", "lingam")
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.ErrorIs(t, err, core.ErrInvalidMethod)
	f.gw.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, StateFailed, f.ctrl.PhaseStatus(PhaseDiscovery).State)
}

func TestDiscovery_FailurePreservesGraph(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))

	f.gw.On("Discover", mock.Anything, mock.Anything, "notears").
		Return(nil, errors.RemoteStatus("discover", 500, "boom")).Once()
	_, err := f.ctrl.RunDiscovery(context.Background(), "", "notears")
	require.Error(t, err)
	assert.True(t, core.IsRemoteError(err))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, []string{"A", "B"}, snap.Nodes)
	assert.Equal(t, "pc", snap.Method)
	assert.Equal(t, StateFailed, snap.Phases[PhaseDiscovery].State)
	assert.Contains(t, snap.Phases[PhaseDiscovery].Error, "boom")
}

func TestDiscovery_MalformedEdgesAreRemoteErrors(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.gw.On("Discover", mock.Anything, mock.Anything, "pc").
		Return(&ports.DiscoveryResult{Edges: []graph.Edge{{Cause: "A", Effect: " "}}}, nil).Once()

	_, err := f.ctrl.RunDiscovery(context.Background(), "", "pc")
	require.Error(t, err)
	assert.True(t, core.IsRemoteError(err))
	assert.False(t, core.IsValidationError(err))
	assert.ErrorIs(t, err, core.ErrMalformedEdge)
	assert.Equal(t, uint64(0), f.ctrl.Graph().Version())
}

func TestDiscovery_ReplacementLeavesNoResidue(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}, [2]string{"B", "C"}))
	f.ctrl.Selection().Update(func(s *analysis.Selection) {
		s.ObservationNode = "C"
		s.SecondObservation = analysis.Some("B")
		s.TargetNode = "B"
	})

	f.discover(t, mustEdges(t, [2]string{"X", "Y"}))
	snap := f.ctrl.Snapshot()
	assert.Equal(t, []string{"X", "Y"}, snap.Nodes)
	assert.Equal(t, "X", snap.Selection.ObservationNode)
	assert.Equal(t, "X", snap.Selection.TargetNode)
	assert.False(t, snap.Selection.SecondObservation.IsSet())
}

// M1 is issued first and is slow; M2 is issued second and resolves first.
func runDiscoveryRace(t *testing.T, f *fixture) (m1, m2 *DiscoveryOutcome) {
	t.Helper()
	m1Started := make(chan struct{})
	releaseM1 := make(chan struct{})
	f.gw.On("Discover", mock.Anything, mock.Anything, "pc").
		Run(func(mock.Arguments) {
			close(m1Started)
			<-releaseM1
		}).
		Return(&ports.DiscoveryResult{Edges: mustEdges(t, [2]string{"M1a", "M1b"})}, nil).Once()
	f.gw.On("Discover", mock.Anything, mock.Anything, "notears").
		Return(&ports.DiscoveryResult{Edges: mustEdges(t, [2]string{"M2a", "M2b"})}, nil).Once()

	var wg sync.WaitGroup
	var m1Err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		m1, m1Err = f.ctrl.RunDiscovery(context.Background(), "", "pc")
	}()
	<-m1Started
	assert.True(t, f.ctrl.Busy(PhaseDiscovery))

	m2, err := f.ctrl.RunDiscovery(context.Background(), "", "notears")
	require.NoError(t, err)
	assert.Equal(t, []string{"M2a", "M2b"}, f.ctrl.Graph().CurrentNodes())
	assert.True(t, f.ctrl.Busy(PhaseDiscovery), "M1 is still in flight")

	close(releaseM1)
	wg.Wait()
	require.NoError(t, m1Err)
	assert.False(t, f.ctrl.Busy(PhaseDiscovery))
	return m1, m2
}

func TestDiscovery_LastResolvedWins(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	m1, m2 := runDiscoveryRace(t, f)

	assert.True(t, m1.Applied)
	assert.True(t, m2.Applied)
	assert.Equal(t, []string{"M1a", "M1b"}, f.ctrl.Graph().CurrentNodes())
	assert.Equal(t, "pc", f.ctrl.Snapshot().Method)
	assert.Equal(t, uint64(2), f.ctrl.Graph().Version())
}

func TestDiscovery_IssuedOrderingDiscardsStale(t *testing.T) {
	f := newFixture(t, OrderingIssued)
	m1, m2 := runDiscoveryRace(t, f)

	assert.False(t, m1.Applied)
	assert.True(t, m2.Applied)
	assert.Equal(t, []string{"M2a", "M2b"}, f.ctrl.Graph().CurrentNodes())
	assert.Equal(t, "notears", f.ctrl.Snapshot().Method)
	assert.Equal(t, uint64(1), f.ctrl.Graph().Version())
}

func TestExplanation_FallbackOnGatewayFailure(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	f.gw.On("Explain", mock.Anything, mock.Anything, ExplanationTopic).
		Return("", errors.RemoteStatus("explain", 503, "llm unavailable")).Once()

	var exp Explanation
	assert.NotPanics(t, func() { exp = f.ctrl.RequestExplanation(context.Background(), nil) })
	assert.Equal(t, FallbackNarrative, exp.Narrative)
	assert.True(t, exp.Degraded)

	stored, ok := f.ctrl.Explanation()
	require.True(t, ok)
	assert.Equal(t, FallbackNarrative, stored.Narrative)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Degraded.WithLabelValues("explanation")))

	// A degraded result is not a phase failure.
	status := f.ctrl.PhaseStatus(PhaseExplanation)
	assert.Equal(t, StateSucceeded, status.State)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PhaseRuns.WithLabelValues("explanation", "succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.PhaseRuns.WithLabelValues("explanation", "failed")))
}

func TestExplanation_ClearedByDiscovery(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	g := mustEdges(t, [2]string{"A", "B"})
	f.discover(t, g)
	f.gw.On("Explain", mock.Anything, g, ExplanationTopic).Return("A drives B.", nil).Once()

	exp := f.ctrl.RequestExplanation(context.Background(), nil)
	assert.Equal(t, "A drives B.", exp.Narrative)
	assert.False(t, exp.Degraded)
	_, ok := f.ctrl.Explanation()
	require.True(t, ok)

	f.discover(t, mustEdges(t, [2]string{"C", "D"}))
	_, ok = f.ctrl.Explanation()
	assert.False(t, ok)
}

func TestTraining_EmptyEdgesIsValidationError(t *testing.T) {
	f := newFixture(t, OrderingResolved)

	_, err := f.ctrl.RunTraining(context.Background(), "", []graph.Edge{}, 100)
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.ErrorIs(t, err, core.ErrEmptyGraph)
	f.gw.AssertNotCalled(t, "FitSCM", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTraining_Epochs(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	g := mustEdges(t, [2]string{"A", "B"})

	_, err := f.ctrl.RunTraining(context.Background(), "", g, 0)
	assert.ErrorIs(t, err, core.ErrInvalidEpochs)

	f.gw.On("FitSCM", mock.Anything, core.DefaultDataset, g, 1000).
		Return(&ports.TrainingResult{Status: "success"}, nil).Once()
	msg, err := f.ctrl.RunTraining(context.Background(), "", g, 1000)
	require.NoError(t, err)
	assert.Equal(t, TrainedMessage, msg)
	assert.Equal(t, TrainedMessage, f.ctrl.TrainingMessage())
}

func TestTraining_FailureRecordsMessage(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	g := mustEdges(t, [2]string{"A", "B"})
	f.gw.On("FitSCM", mock.Anything, mock.Anything, g, DefaultEpochs).
		Return(&ports.TrainingResult{Status: "success", Message: "fit ok"}, nil).Once()
	f.gw.On("FitSCM", mock.Anything, mock.Anything, g, DefaultEpochs).
		Return(nil, errors.RemoteStatus("fit_scm", 500, "cuda oom")).Once()

	msg, err := f.ctrl.RunTraining(context.Background(), "", g, DefaultEpochs)
	require.NoError(t, err)
	assert.Equal(t, "fit ok", msg)

	_, err = f.ctrl.RunTraining(context.Background(), "", g, DefaultEpochs)
	require.Error(t, err)
	assert.True(t, core.IsRemoteError(err))
	assert.True(t, strings.HasPrefix(f.ctrl.TrainingMessage(), "Training failed"))
}

func TestCounterfactual_ValidationBlocksDispatch(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))

	cases := map[string]CounterfactualInput{
		"unknown node":        {ObservationNode: "Z", ObservationValue: "1", InterventionValue: "2"},
		"empty value":         {ObservationValue: "", InterventionValue: "2"},
		"non-numeric value":   {ObservationValue: "abc", InterventionValue: "2"},
		"second equals first": {ObservationNode: "A", ObservationValue: "1", SecondObservation: analysis.Some("A"), SecondValue: "1", InterventionValue: "2"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ctrl.RunCounterfactual(context.Background(), in)
			require.Error(t, err)
			assert.True(t, core.IsValidationError(err))
		})
	}
	f.gw.AssertNotCalled(t, "Counterfactual", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCounterfactual_WithoutSessionIsEphemeral(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	want := analysis.CounterfactualRequest{
		Observation:  analysis.Assignment{"A": 1, "B": 2},
		Intervention: analysis.Assignment{"A": 5},
	}
	f.gw.On("Counterfactual", mock.Anything, want, mock.Anything, core.DefaultDataset).
		Return(&analysis.CounterfactualResult{
			Original:       map[string]float64{"A": 1, "B": 2},
			Counterfactual: map[string]float64{"A": 5, "B": 4},
			Delta:          map[string]float64{"A": 4, "B": 2},
		}, nil).Once()

	out, err := f.ctrl.RunCounterfactual(context.Background(), CounterfactualInput{
		ObservationValue:  "1",
		SecondObservation: analysis.Some("B"),
		SecondValue:       "2",
		InterventionValue: "5",
	})
	require.NoError(t, err)
	assert.Equal(t, "A", out.Summary.LargestNode)
	assert.Equal(t, 3.0, out.Summary.Mean)
	f.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, "B", f.ctrl.Selection().Current().SecondObservation.String())
}

func TestCounterfactual_FailedAppendKeepsResult(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	f.login(t)
	f.gw.On("Counterfactual", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&analysis.CounterfactualResult{
			Original:       map[string]float64{"A": 1},
			Counterfactual: map[string]float64{"A": 5},
			Delta:          map[string]float64{"A": 4},
		}, nil).Once()
	f.store.On("Save", mock.Anything, "analyst@example.com", mock.Anything).
		Return(errors.RemoteStatus("history.save", 500, "db down")).Once()

	out, err := f.ctrl.RunCounterfactual(context.Background(), CounterfactualInput{ObservationValue: "1", InterventionValue: "5"})
	require.NoError(t, err)
	require.NotNil(t, out)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Counterfactual)
	assert.Equal(t, 4.0, snap.Counterfactual.Result.Delta["A"])
	assert.Contains(t, snap.HistoryError, "db down")
	assert.Equal(t, StateSucceeded, snap.Phases[PhaseCounterfactual].State)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HistoryAppendFailures))
}

func TestCounterfactual_RemoteFailureKeepsPreviousResult(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	f.gw.On("Counterfactual", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&analysis.CounterfactualResult{Delta: map[string]float64{"A": 1}}, nil).Once()
	f.gw.On("Counterfactual", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.RemoteStatus("counterfactual", 500, "boom")).Once()

	_, err := f.ctrl.RunCounterfactual(context.Background(), CounterfactualInput{ObservationValue: "1", InterventionValue: "2"})
	require.NoError(t, err)
	_, err = f.ctrl.RunCounterfactual(context.Background(), CounterfactualInput{ObservationValue: "1", InterventionValue: "3"})
	require.Error(t, err)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Counterfactual)
	assert.Equal(t, 2.0, snap.Counterfactual.Request.Intervention["A"])
}

func TestSimulation_SavesHistoryAndSubstitutesBounds(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	f.login(t)

	want := analysis.SimulationRequest{Intervention: analysis.Assignment{"B": 3}, SampleCount: analysis.SimulationSampleCount}
	f.gw.On("Simulate", mock.Anything, want, mock.Anything, mock.Anything).
		Return(&analysis.SimulationResult{
			MeanOutcomes: map[string]float64{"A": 1, "B": 3},
			LowerCI:      map[string]float64{"A": 0.5},
			UpperCI:      map[string]float64{"A": 1.5},
		}, nil).Once()
	f.store.On("Save", mock.Anything, "analyst@example.com", mock.MatchedBy(func(d history.Draft) bool {
		_, hasLower := d.Results["lower_ci"]
		return d.Type == history.TypeSimulation && hasLower && d.Inputs["intervention"] != nil
	})).Return(nil).Once()
	saved := []history.Entry{{ID: "1", Type: history.TypeSimulation}}
	f.store.On("List", mock.Anything, "analyst@example.com").Return(saved, nil).Once()

	out, err := f.ctrl.RunSimulation(context.Background(), "B", "3")
	require.NoError(t, err)
	assert.True(t, out.Degraded)

	want2 := []analysis.Band{
		{Node: "A", Mean: 1, Lower: 0.5, Upper: 1.5},
		{Node: "B", Mean: 3, Lower: 3, Upper: 3, Degraded: true},
	}
	if diff := cmp.Diff(want2, out.Bands); diff != "" {
		t.Errorf("bands mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, saved, f.ctrl.History())
	assert.Equal(t, "B", f.ctrl.Selection().Current().SimulationNode)
	f.store.AssertExpectations(t)
}

func TestSimulation_NonNumericValue(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))

	for _, v := range []string{"", "abc", "NaN"} {
		_, err := f.ctrl.RunSimulation(context.Background(), "", v)
		assert.True(t, core.IsValidationError(err), v)
	}
}

func TestOptimization_TargetMayEqualControl(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	want := analysis.OptimizationRequest{TargetNode: "A", TargetValue: 10, ControlNode: "A"}
	f.gw.On("Optimize", mock.Anything, want, mock.Anything, mock.Anything).
		Return(&analysis.OptimizationResult{SuggestedValue: 5}, nil).Once()

	out, err := f.ctrl.RunOptimization(context.Background(), "", "10", "")
	require.NoError(t, err)
	assert.Equal(t, 5.0, out.Result.SuggestedValue)
	f.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)

	_, err = f.ctrl.RunOptimization(context.Background(), "A", "lots", "B")
	assert.True(t, core.IsValidationError(err))
}

func TestUpload(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.gw.On("UploadDataset", mock.Anything, "shop.csv", mock.Anything).Return(core.DatasetRef("shop.csv"), nil).Once()
	f.gw.On("UploadDataset", mock.Anything, "bad.csv", mock.Anything).
		Return(core.DatasetRef(""), errors.RemoteStatus("upload", 413, "too large")).Once()

	ref, err := f.ctrl.UploadDataset(context.Background(), "shop.csv", strings.NewReader("a,b"))
	require.NoError(t, err)
	assert.Equal(t, core.DatasetRef("shop.csv"), ref)

	_, err = f.ctrl.UploadDataset(context.Background(), "bad.csv", strings.NewReader("a,b"))
	require.Error(t, err)
	snap := f.ctrl.Snapshot()
	assert.Equal(t, core.DatasetRef("shop.csv"), snap.Dataset)
	assert.Equal(t, "Uploaded: shop.csv", snap.UploadMessage)

	_, err = f.ctrl.UploadDataset(context.Background(), "", strings.NewReader(""))
	assert.True(t, core.IsValidationError(err))
}

func TestLoginLogout(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.gw.On("Login", mock.Anything, "analyst@example.com", "bad").
		Return(nil, errors.RemoteStatus("login", 401, "Invalid credentials")).Once()

	_, err := f.ctrl.Login(context.Background(), "analyst@example.com", "bad")
	require.Error(t, err)
	assert.Nil(t, f.ctrl.Session())

	f.login(t)
	require.NotNil(t, f.ctrl.Session())
	assert.Equal(t, "analyst@example.com", f.ctrl.Snapshot().User)

	f.ctrl.Logout()
	assert.Nil(t, f.ctrl.Session())
	assert.Empty(t, f.ctrl.History())
	assert.ErrorIs(t, f.ctrl.ClearHistory(context.Background(), true), core.ErrNoSession)
}

func TestGatewayCallsCarrySession(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.login(t)
	f.gw.On("Discover", mock.MatchedBy(func(ctx context.Context) bool {
		s, ok := session.FromContext(ctx)
		return ok && s.Token() == testkit.FakeToken
	}), mock.Anything, "pc").Return(&ports.DiscoveryResult{Edges: mustEdges(t, [2]string{"A", "B"})}, nil).Once()

	_, err := f.ctrl.RunDiscovery(context.Background(), "", "pc")
	require.NoError(t, err)
	f.gw.AssertExpectations(t)
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.login(t)

	assert.ErrorIs(t, f.ctrl.ClearHistory(context.Background(), false), core.ErrConfirmationRequired)
	f.store.On("Clear", mock.Anything, "analyst@example.com").Return(nil).Once()
	require.NoError(t, f.ctrl.ClearHistory(context.Background(), true))
	f.store.AssertExpectations(t)
}

func TestSnapshotIsolation(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))

	snap := f.ctrl.Snapshot()
	snap.Nodes[0] = "mutated"
	snap.Edges[0].Cause = "mutated"
	assert.Equal(t, []string{"A", "B"}, f.ctrl.Snapshot().Nodes)
}

func TestBusyDuringCall(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	g := mustEdges(t, [2]string{"A", "B"})
	started, release := make(chan struct{}), make(chan struct{})
	f.gw.On("FitSCM", mock.Anything, mock.Anything, g, DefaultEpochs).
		Run(func(mock.Arguments) { close(started); <-release }).
		Return(&ports.TrainingResult{Status: "success"}, nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.ctrl.RunTraining(context.Background(), "", g, DefaultEpochs)
	}()
	<-started
	assert.True(t, f.ctrl.Busy(PhaseTraining))
	assert.Equal(t, StateLoading, f.ctrl.PhaseStatus(PhaseTraining).State)
	assert.False(t, f.ctrl.Busy(PhaseDiscovery))
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("training did not finish")
	}
	assert.False(t, f.ctrl.Busy(PhaseTraining))
	assert.Equal(t, StateSucceeded, f.ctrl.PhaseStatus(PhaseTraining).State)
}

func TestBusyPhaseRejectsSecondSubmission(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	started, release := make(chan struct{}), make(chan struct{})
	f.gw.On("Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { close(started); <-release }).
		Return(&analysis.SimulationResult{MeanOutcomes: map[string]float64{"A": 1, "B": 2}}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.RunSimulation(context.Background(), "A", "1")
		done <- err
	}()
	<-started

	_, err := f.ctrl.RunSimulation(context.Background(), "A", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPhaseBusy)
	assert.True(t, core.IsValidationError(err))

	status := f.ctrl.PhaseStatus(PhaseSimulation)
	assert.Equal(t, StateLoading, status.State)
	assert.Equal(t, 1, status.InFlight)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PhaseRuns.WithLabelValues("simulation", "rejected")))

	// Other phases are independent.
	assert.False(t, f.ctrl.Busy(PhaseCounterfactual))

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("simulation did not finish")
	}
	f.gw.AssertNumberOfCalls(t, "Simulate", 1)
	assert.Equal(t, StateSucceeded, f.ctrl.PhaseStatus(PhaseSimulation).State)

	// The phase accepts a new call once idle.
	f.gw.On("Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&analysis.SimulationResult{MeanOutcomes: map[string]float64{"A": 2, "B": 3}}, nil).Once()
	_, err = f.ctrl.RunSimulation(context.Background(), "A", "2")
	require.NoError(t, err)
}

func TestExplanation_BusyReturnsFallbackWithoutStoring(t *testing.T) {
	f := newFixture(t, OrderingResolved)
	f.discover(t, mustEdges(t, [2]string{"A", "B"}))
	started, release := make(chan struct{}), make(chan struct{})
	f.gw.On("Explain", mock.Anything, mock.Anything, ExplanationTopic).
		Run(func(mock.Arguments) { close(started); <-release }).
		Return("A drives B.", nil).Once()

	done := make(chan Explanation, 1)
	go func() { done <- f.ctrl.RequestExplanation(context.Background(), nil) }()
	<-started

	second := f.ctrl.RequestExplanation(context.Background(), nil)
	assert.True(t, second.Degraded)
	assert.Equal(t, FallbackNarrative, second.Narrative)

	close(release)
	first := <-done
	assert.Equal(t, "A drives B.", first.Narrative)
	stored, ok := f.ctrl.Explanation()
	require.True(t, ok)
	assert.Equal(t, "A drives B.", stored.Narrative)
	f.gw.AssertNumberOfCalls(t, "Explain", 1)
}
