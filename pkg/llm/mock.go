package llm

import (
	"context"
)

// MockClient is a configurable mock for testing generator-dependent code.
// Set the function fields to control behavior in tests.
type MockClient struct {
	// GenerateFunc is called when Generate is invoked.
	// If nil, returns an empty result and nil error.
	GenerateFunc func(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*GenerateResult, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Provider is returned by GetProvider. Defaults to "mock".
	Provider string

	// GenerateCalls counts Generate invocations for verification.
	GenerateCalls int
}

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Model:    "mock-model",
		Provider: "mock",
	}
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*GenerateResult, error) {
	m.GenerateCalls++
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, systemPrompt, userPrompt, temperature)
	}
	return &GenerateResult{}, nil
}

// GetModel implements Client.
func (m *MockClient) GetModel() string {
	return m.Model
}

// GetProvider implements Client.
func (m *MockClient) GetProvider() string {
	return m.Provider
}

// Reset clears call tracking.
func (m *MockClient) Reset() {
	m.GenerateCalls = 0
}

// Ensure MockClient implements Client at compile time.
var _ Client = (*MockClient)(nil)
