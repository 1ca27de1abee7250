package ports

import (
	"context"
	"io"

	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
)

// DiscoveryResult is a validated discovery response.
type DiscoveryResult struct {
	Edges  []graph.Edge
	Nodes  []string
	Method string
}

// TrainingResult is the gateway's acknowledgement of a model fit.
type TrainingResult struct {
	Status  string
	Message string
}

// AuthResult is returned by login and signup.
type AuthResult struct {
	Status string
	Token  string
}

// InferenceGateway is the remote service that runs every statistical
// computation. Implementations must return errors matching core.ErrRemote for
// transport failures and non-success responses.
type InferenceGateway interface {
	// Discover infers causal edges from the dataset with the given method.
	Discover(ctx context.Context, dataset core.DatasetRef, method string) (*DiscoveryResult, error)

	// Explain narrates a graph in plain language.
	Explain(ctx context.Context, edges []graph.Edge, topic string) (string, error)

	// FitSCM trains a structural causal model on the graph.
	FitSCM(ctx context.Context, dataset core.DatasetRef, edges []graph.Edge, epochs int) (*TrainingResult, error)

	Counterfactual(ctx context.Context, req analysis.CounterfactualRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.CounterfactualResult, error)
	Simulate(ctx context.Context, req analysis.SimulationRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.SimulationResult, error)
	Optimize(ctx context.Context, req analysis.OptimizationRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.OptimizationResult, error)

	// UploadDataset stores a file remotely and returns its dataset reference.
	UploadDataset(ctx context.Context, filename string, content io.Reader) (core.DatasetRef, error)

	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Signup(ctx context.Context, email, password, fullName string) (*AuthResult, error)
}
