// Package llm provides the hosted-model clients used to draft SQL plans.
package llm

import (
	"context"
)

// Client defines the interface for plan-drafting model calls.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Generate produces a completion for the given prompts.
	Generate(ctx context.Context, systemPrompt string, userPrompt string, temperature float64) (*GenerateResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetProvider returns the provider name ("openai" or "anthropic").
	GetProvider() string
}

// GenerateResult carries the completion text and token usage.
type GenerateResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Config holds configuration for creating a model client.
type Config struct {
	Provider  string // "openai" or "anthropic"
	Model     string // model name, e.g. "gpt-4o-mini"
	BaseURL   string // optional endpoint override (self-hosted gateways)
	APIKey    string
	MaxTokens int // completion cap; 0 uses the provider default
}

// Ensure both clients implement Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
)
