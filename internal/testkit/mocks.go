package testkit

import (
	"context"
	"io"

	"rcie/domain/analysis"
	"rcie/domain/core"
	"rcie/domain/graph"
	"rcie/domain/history"
	"rcie/ports"

	"github.com/stretchr/testify/mock"
)

// MockHistoryStore is a testify mock of ports.HistoryStore
type MockHistoryStore struct {
	mock.Mock
}

var _ ports.HistoryStore = (*MockHistoryStore)(nil)

func (m *MockHistoryStore) Save(ctx context.Context, email string, draft history.Draft) error {
	args := m.Called(ctx, email, draft)
	return args.Error(0)
}

func (m *MockHistoryStore) List(ctx context.Context, email string) ([]history.Entry, error) {
	args := m.Called(ctx, email)
	entries, _ := args.Get(0).([]history.Entry)
	return entries, args.Error(1)
}

func (m *MockHistoryStore) Clear(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// MockGateway is a testify mock of ports.InferenceGateway
type MockGateway struct {
	mock.Mock
}

var _ ports.InferenceGateway = (*MockGateway)(nil)

func (m *MockGateway) Discover(ctx context.Context, dataset core.DatasetRef, method string) (*ports.DiscoveryResult, error) {
	args := m.Called(ctx, dataset, method)
	res, _ := args.Get(0).(*ports.DiscoveryResult)
	return res, args.Error(1)
}

func (m *MockGateway) Explain(ctx context.Context, edges []graph.Edge, topic string) (string, error) {
	args := m.Called(ctx, edges, topic)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) FitSCM(ctx context.Context, dataset core.DatasetRef, edges []graph.Edge, epochs int) (*ports.TrainingResult, error) {
	args := m.Called(ctx, dataset, edges, epochs)
	res, _ := args.Get(0).(*ports.TrainingResult)
	return res, args.Error(1)
}

func (m *MockGateway) Counterfactual(ctx context.Context, req analysis.CounterfactualRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.CounterfactualResult, error) {
	args := m.Called(ctx, req, edges, dataset)
	res, _ := args.Get(0).(*analysis.CounterfactualResult)
	return res, args.Error(1)
}

func (m *MockGateway) Simulate(ctx context.Context, req analysis.SimulationRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.SimulationResult, error) {
	args := m.Called(ctx, req, edges, dataset)
	res, _ := args.Get(0).(*analysis.SimulationResult)
	return res, args.Error(1)
}

func (m *MockGateway) Optimize(ctx context.Context, req analysis.OptimizationRequest, edges []graph.Edge, dataset core.DatasetRef) (*analysis.OptimizationResult, error) {
	args := m.Called(ctx, req, edges, dataset)
	res, _ := args.Get(0).(*analysis.OptimizationResult)
	return res, args.Error(1)
}

func (m *MockGateway) UploadDataset(ctx context.Context, filename string, content io.Reader) (core.DatasetRef, error) {
	args := m.Called(ctx, filename, content)
	ref, _ := args.Get(0).(core.DatasetRef)
	return ref, args.Error(1)
}

func (m *MockGateway) Login(ctx context.Context, email, password string) (*ports.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*ports.AuthResult)
	return res, args.Error(1)
}

func (m *MockGateway) Signup(ctx context.Context, email, password, fullName string) (*ports.AuthResult, error) {
	args := m.Called(ctx, email, password, fullName)
	res, _ := args.Get(0).(*ports.AuthResult)
	return res, args.Error(1)
}
