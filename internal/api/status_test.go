package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rcie/domain/graph"
	"rcie/internal/observability"
	"rcie/internal/testkit"
	"rcie/internal/workflow"
	"rcie/ports"

	"github.com/gin-contrib/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newStatus(t *testing.T) (*StatusServer, *workflow.Controller, *testkit.MockGateway, *httptest.Server) {
	t.Helper()
	gw := &testkit.MockGateway{}
	metrics := observability.NewCollector("rcie_status")
	ctrl, err := workflow.New(workflow.Options{Gateway: gw, History: &testkit.MockHistoryStore{}, Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	s := NewStatusServer(ctrl, metrics, nil)
	t.Cleanup(s.Close)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return s, ctrl, gw, srv
}

func discover(t *testing.T, ctrl *workflow.Controller, gw *testkit.MockGateway, pairs ...[]string) {
	t.Helper()
	edges, err := graph.FromPairs(pairs)
	require.NoError(t, err)
	gw.On("Discover", mock.Anything, mock.Anything, "pc").Return(&ports.DiscoveryResult{Edges: edges}, nil).Once()
	_, err = ctrl.RunDiscovery(context.Background(), "", "pc")
	require.NoError(t, err)
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	_, _, _, srv := newStatus(t)

	status, body := getBody(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","graph_version":0,"sse_clients":0}`, body)
}

func TestState_ServesSnapshot(t *testing.T) {
	_, ctrl, gw, srv := newStatus(t)
	discover(t, ctrl, gw, []string{"A", "B"}, []string{"B", "C"})

	status, body := getBody(t, srv.URL+"/state")
	require.Equal(t, http.StatusOK, status)

	var snap struct {
		GraphVersion uint64     `json:"graph_version"`
		Edges        [][]string `json:"edges"`
		Nodes        []string   `json:"nodes"`
		Method       string     `json:"method"`
		Selection    struct {
			ObservationNode string `json:"observation_node"`
		} `json:"selection"`
		Phases map[string]struct {
			State string `json:"state"`
		} `json:"phases"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, uint64(1), snap.GraphVersion)
	assert.Equal(t, [][]string{{"A", "B"}, {"B", "C"}}, snap.Edges)
	assert.Equal(t, []string{"A", "B", "C"}, snap.Nodes)
	assert.Equal(t, "pc", snap.Method)
	assert.Equal(t, "A", snap.Selection.ObservationNode)
	assert.Equal(t, "succeeded", snap.Phases["discovery"].State)
}

func TestMetrics(t *testing.T) {
	_, ctrl, gw, srv := newStatus(t)
	discover(t, ctrl, gw, []string{"A", "B"})

	status, body := getBody(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "rcie_status_graph_nodes 2")
	assert.Contains(t, body, `rcie_status_phase_runs_total{outcome="succeeded",phase="discovery"} 1`)
}

func TestEvents_StreamsGraphReplacement(t *testing.T) {
	s, ctrl, gw, srv := newStatus(t)

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, sse.ContentType, resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return s.Events().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	discover(t, ctrl, gw, []string{"X", "Y"})

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var event, data string
	timeout := time.After(5 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended early")
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
	assert.Equal(t, EventGraphReplaced, event)

	var got struct {
		Type string `json:"type"`
		Data struct {
			Version uint64   `json:"version"`
			Nodes   []string `json:"nodes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, EventGraphReplaced, got.Type)
	assert.Equal(t, uint64(1), got.Data.Version)
	assert.Equal(t, []string{"X", "Y"}, got.Data.Nodes)
}

func TestEventHub_PublishNeverBlocks(t *testing.T) {
	hub := NewEventHub(nil)
	defer hub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(Event{Type: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
}
