package gateway

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
	"rcie/domain/history"
	"rcie/internal/errors"
	"rcie/internal/session"
	"rcie/internal/testkit"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, fake *testkit.FakeGateway, breaker bool) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:            fake.URL() + "/",
		Timeout:            5 * time.Second,
		BreakerEnabled:     breaker,
		BreakerMaxFailures: 3,
		BreakerOpenTimeout: time.Minute,
	}, WithHTTPClient(fake.Client()))
	require.NoError(t, err)
	return c
}

func edges(t *testing.T, pairs ...[2]string) []graph.Edge {
	t.Helper()
	out := make([]graph.Edge, 0, len(pairs))
	for _, p := range pairs {
		e, err := graph.NewEdge(p[0], p[1])
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "  "})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestDiscover(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.SetEdges("notears", [][]string{{"price", "sales"}, {"ads", "sales"}})
	c := newTestClient(t, fake, false)

	res, err := c.Discover(context.Background(), core.DefaultDataset, "notears")
	require.NoError(t, err)
	assert.Equal(t, "notears", res.Method)
	if diff := cmp.Diff(edges(t, [2]string{"price", "sales"}, [2]string{"ads", "sales"}), res.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscover_MissingEdgesIsRemoteError(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.Respond("discover", http.StatusOK, `{"nodes":["A"]}`)
	c := newTestClient(t, fake, false)

	_, err := c.Discover(context.Background(), core.DefaultDataset, "pc")
	require.Error(t, err)
	assert.True(t, core.IsRemoteError(err))
	assert.True(t, stderrors.Is(err, core.ErrMissingField))
	assert.False(t, core.IsValidationError(err))
}

func TestDiscover_MalformedEdgeIsRemoteNotValidation(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.Respond("discover", http.StatusOK, `{"edges":[["A",""]]}`)
	c := newTestClient(t, fake, false)

	_, err := c.Discover(context.Background(), core.DefaultDataset, "pc")
	require.Error(t, err)
	assert.True(t, core.IsRemoteError(err))
	assert.False(t, core.IsValidationError(err))
}

func TestNon2xxCarriesStatusAndDetail(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.Fail("discover", http.StatusInternalServerError, "Dataset not found", 0)
	c := newTestClient(t, fake, false)

	_, err := c.Discover(context.Background(), "missing.csv", "pc")
	require.Error(t, err)
	assert.True(t, core.IsRemoteError(err))
	assert.Equal(t, http.StatusInternalServerError, errors.GetStatus(err))
	assert.Contains(t, err.Error(), "Dataset not found")
}

func TestValidationDetailListIsRendered(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.Respond("fit_scm", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","epochs"],"msg":"field required"}]}`)
	c := newTestClient(t, fake, false)

	_, err := c.FitSCM(context.Background(), core.DefaultDataset, edges(t, [2]string{"A", "B"}), 100)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, errors.GetStatus(err))
	assert.Contains(t, err.Error(), "field required")
}

func TestExplainAndFit(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.SetNarrative("A drives B.")
	c := newTestClient(t, fake, false)
	g := edges(t, [2]string{"A", "B"})

	text, err := c.Explain(context.Background(), g, "System Simulation")
	require.NoError(t, err)
	assert.Equal(t, "A drives B.", text)

	res, err := c.FitSCM(context.Background(), core.DefaultDataset, g, 100)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "Neural SCM model trained successfully", res.Message)
}

func TestCounterfactual(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, false)
	req := analysis.CounterfactualRequest{
		Observation:  analysis.Assignment{"A": 1},
		Intervention: analysis.Assignment{"A": 5},
	}

	res, err := c.Counterfactual(context.Background(), req, edges(t, [2]string{"A", "B"}), core.DefaultDataset)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Counterfactual["A"])
	assert.Equal(t, 2.0, res.Delta["B"])
	assert.False(t, res.Degraded())
}

func TestCounterfactual_NullValuesAreDroppedAndDegraded(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.Respond("counterfactual", http.StatusOK,
		`{"original":{"A":1,"B":null},"counterfactual":{"A":5,"B":null},"delta":{"A":4,"B":null}}`)
	c := newTestClient(t, fake, false)

	res, err := c.Counterfactual(context.Background(), analysis.CounterfactualRequest{
		Observation:  analysis.Assignment{"A": 1},
		Intervention: analysis.Assignment{"A": 5},
	}, edges(t, [2]string{"A", "B"}), core.DefaultDataset)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Missing)
	assert.NotContains(t, res.Delta, "B")
	assert.True(t, res.Degraded())
}

func TestSimulate_OmittedBoundsDegrade(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.OmitConfidenceBounds()
	c := newTestClient(t, fake, false)

	res, err := c.Simulate(context.Background(), analysis.SimulationRequest{
		Intervention: analysis.Assignment{"A": 3},
		SampleCount:  analysis.SimulationSampleCount,
	}, edges(t, [2]string{"A", "B"}), core.DefaultDataset)
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	for _, b := range res.Bands() {
		assert.Equal(t, b.Mean, b.Lower)
		assert.Equal(t, b.Mean, b.Upper)
	}
}

func TestOptimize(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, false)

	res, err := c.Optimize(context.Background(), analysis.OptimizationRequest{
		TargetNode: "B", TargetValue: 10, ControlNode: "A",
	}, edges(t, [2]string{"A", "B"}), core.DefaultDataset)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.SuggestedValue)
	require.NotNil(t, res.PredictedOutcome)
	assert.Equal(t, 10.0, *res.PredictedOutcome)

	fake.Respond("optimize", http.StatusOK, `{"suggested_value":null}`)
	_, err = c.Optimize(context.Background(), analysis.OptimizationRequest{
		TargetNode: "B", TargetValue: 10, ControlNode: "A",
	}, edges(t, [2]string{"A", "B"}), core.DefaultDataset)
	assert.True(t, stderrors.Is(err, core.ErrMissingField))
}

func TestUploadDataset(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, false)

	ref, err := c.UploadDataset(context.Background(), "/tmp/sales.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, core.DatasetRef("sales.csv"), ref)

	content, ok := fake.Upload("sales.csv")
	require.True(t, ok)
	assert.Equal(t, "a,b\n1,2\n", string(content))

	_, err = c.UploadDataset(context.Background(), " ", strings.NewReader(""))
	assert.True(t, core.IsValidationError(err))
}

func TestLoginAndBearerToken(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.AddUser("analyst@example.com", "secret")
	c := newTestClient(t, fake, false)

	_, err := c.Login(context.Background(), "analyst@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, errors.GetStatus(err))
	assert.Contains(t, err.Error(), "Invalid credentials")

	res, err := c.Login(context.Background(), "analyst@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, testkit.FakeToken, res.Token)

	s, err := session.New("analyst@example.com", res.Token)
	require.NoError(t, err)
	ctx := session.NewContext(context.Background(), s)
	_, err = c.Explain(ctx, edges(t, [2]string{"A", "B"}), "System Simulation")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+testkit.FakeToken, fake.Authorization("explain"))
}

func TestSignup(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, false)

	res, err := c.Signup(context.Background(), "new@example.com", "pw", "New Analyst")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)

	_, err = c.Signup(context.Background(), "new@example.com", "pw", "New Analyst")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.GetStatus(err))
}

func TestHistoryRoundTrip(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, false)
	ctx := context.Background()
	email := "analyst+1@example.com"

	for i, typ := range []history.AnalysisType{history.TypeCounterfactual, history.TypeSimulation} {
		err := c.Save(ctx, email, history.Draft{
			Type:    typ,
			Inputs:  map[string]interface{}{"i": i},
			Results: map[string]interface{}{"ok": true},
		})
		require.NoError(t, err)
	}

	entries, err := c.List(ctx, email)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, history.TypeSimulation, entries[0].Type)
	assert.Equal(t, core.EntryID("2"), entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())

	require.NoError(t, c.Clear(ctx, email))
	entries, err = c.List(ctx, email)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryList_LimitedToTwenty(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, false)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, c.Save(ctx, "a@b.c", history.Draft{Type: history.TypeCounterfactual}))
	}
	entries, err := c.List(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
	assert.Equal(t, core.EntryID("25"), entries[0].ID)
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	fake.Fail("discover", http.StatusBadGateway, "upstream down", 0)
	c := newTestClient(t, fake, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Discover(ctx, core.DefaultDataset, "pc")
		require.Error(t, err)
		assert.False(t, stderrors.Is(err, core.ErrGatewayDegraded))
	}
	_, err := c.Discover(ctx, core.DefaultDataset, "pc")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, core.ErrGatewayDegraded))
	assert.True(t, core.IsRemoteError(err))
	assert.Equal(t, 3, fake.Calls("discover"))
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	c := newTestClient(t, fake, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Login(ctx, "nobody@example.com", "x")
		require.Error(t, err)
		assert.False(t, stderrors.Is(err, core.ErrGatewayDegraded))
	}
	assert.Equal(t, 5, fake.Calls("login"))
}

type recordingObserver struct {
	ops      []string
	statuses []int
}

func (r *recordingObserver) ObserveGatewayCall(op string, status int, _ time.Duration, _ error) {
	r.ops = append(r.ops, op)
	r.statuses = append(r.statuses, status)
}

func TestObserverSeesEveryCall(t *testing.T) {
	fake := testkit.NewFakeGateway(t)
	obs := &recordingObserver{}
	c, err := NewClient(Config{BaseURL: fake.URL(), Timeout: time.Second}, WithHTTPClient(fake.Client()), WithObserver(obs))
	require.NoError(t, err)

	_, err = c.Discover(context.Background(), core.DefaultDataset, "pc")
	require.NoError(t, err)
	_, _ = c.Login(context.Background(), "x@y.z", "pw")

	assert.Equal(t, []string{"discover", "login"}, obs.ops)
	assert.Equal(t, []int{http.StatusOK, http.StatusUnauthorized}, obs.statuses)
}
