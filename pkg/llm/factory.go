package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Provider names accepted by the factory. ProviderNone disables generation
// entirely; the planner then relies on its deterministic fallback.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// NewClient creates the model client for the configured provider.
// Callers should not invoke the factory when the provider is "none".
func NewClient(cfg *Config, logger *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	case ProviderNone, "":
		return nil, fmt.Errorf("generator provider is disabled")
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
