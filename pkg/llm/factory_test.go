package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClient_OpenAI(t *testing.T) {
	client, err := NewClient(&Config{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, client.GetProvider())
	assert.Equal(t, "gpt-4o-mini", client.GetModel())
}

func TestNewClient_OpenAICaseInsensitive(t *testing.T) {
	client, err := NewClient(&Config{
		Provider: "OpenAI",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, client.GetProvider())
}

func TestNewClient_Anthropic(t *testing.T) {
	client, err := NewClient(&Config{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-5",
		APIKey:   "test-key",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, client.GetProvider())
	assert.Equal(t, "claude-sonnet-4-5", client.GetModel())
}

func TestNewClient_AnthropicRequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-5",
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(&Config{
		Provider: "openai",
		APIKey:   "test-key",
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewClient_DisabledProvider(t *testing.T) {
	for _, provider := range []string{"none", ""} {
		_, err := NewClient(&Config{Provider: provider, Model: "x"}, zap.NewNop())
		assert.Error(t, err, "provider %q should not build a client", provider)
	}
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(&Config{Provider: "cohere", Model: "x"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown generator provider")
}
