package gateway

import (
	"encoding/json"
	"sort"
	"strings"

	"rcie/domain/analysis"
	"rcie/domain/graph"
)

// Request and response bodies of the gateway's JSON contract. Field names
// follow the service, not Go conventions.

type discoverRequest struct {
	DatasetPath string `json:"dataset_path"`
	Method      string `json:"method"`
}

type discoverResponse struct {
	Edges  *[][]string `json:"edges"`
	Nodes  []string    `json:"nodes,omitempty"`
	Method string      `json:"method,omitempty"`
}

type explainRequest struct {
	Edges   []graph.Edge `json:"edges"`
	Context string       `json:"context"`
}

type explainResponse struct {
	Narrative *string `json:"narrative"`
}

type fitRequest struct {
	DatasetPath string       `json:"dataset_path"`
	Edges       []graph.Edge `json:"dag_edges"`
	Epochs      int          `json:"epochs"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type counterfactualRequest struct {
	Observation  analysis.Assignment `json:"observation"`
	Intervention analysis.Assignment `json:"intervention"`
	Edges        []graph.Edge        `json:"dag_edges"`
	DatasetPath  string              `json:"dataset_path"`
}

// nullableValues is a node→value map in which the service may emit null for
// values it could not compute.
type nullableValues map[string]*float64

type counterfactualResponse struct {
	Original       nullableValues `json:"original"`
	Counterfactual nullableValues `json:"counterfactual"`
	Delta          nullableValues `json:"delta"`
}

type simulateRequest struct {
	Intervention analysis.Assignment `json:"intervention"`
	SampleCount  int                 `json:"n_samples"`
	Edges        []graph.Edge        `json:"dag_edges"`
	DatasetPath  string              `json:"dataset_path"`
}

type simulateResponse struct {
	MeanOutcomes nullableValues `json:"mean_outcomes"`
	LowerCI      nullableValues `json:"lower_ci,omitempty"`
	UpperCI      nullableValues `json:"upper_ci,omitempty"`
}

type optimizeRequest struct {
	TargetNode  string       `json:"target_node"`
	TargetValue float64      `json:"target_value"`
	ControlNode string       `json:"control_node"`
	Edges       []graph.Edge `json:"dag_edges"`
	DatasetPath string       `json:"dataset_path"`
}

type optimizeResponse struct {
	SuggestedValue   *float64 `json:"suggested_value"`
	PredictedOutcome *float64 `json:"predicted_outcome,omitempty"`
	Message          string   `json:"message,omitempty"`
}

type uploadResponse struct {
	Filename string `json:"filename"`
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type authResponse struct {
	Status string `json:"status"`
	Email  string `json:"email,omitempty"`
	Token  string `json:"token,omitempty"`
}

type historySaveRequest struct {
	Email   string                 `json:"email"`
	Type    string                 `json:"type"`
	Inputs  map[string]interface{} `json:"inputs"`
	Results map[string]interface{} `json:"results"`
}

type historyItem struct {
	ID        json.RawMessage        `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Inputs    map[string]interface{} `json:"inputs"`
	Results   map[string]interface{} `json:"results"`
}

// errorResponse is the service's error envelope.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// detailText renders the error detail, which is a string for most failures
// and a list of field errors for schema rejections.
func (e errorResponse) detailText() string {
	if len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return string(e.Detail)
}

// split drops null values and reports which nodes were dropped.
func (v nullableValues) split() (map[string]float64, []string) {
	values := make(map[string]float64, len(v))
	var missing []string
	for node, val := range v {
		if val == nil {
			missing = append(missing, node)
			continue
		}
		values[node] = *val
	}
	sort.Strings(missing)
	return values, missing
}

// rawID normalizes numeric or string IDs to text.
func rawID(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
