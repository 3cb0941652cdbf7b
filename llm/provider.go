package llm

import (
	"fmt"
	"strings"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	"github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"
)

// DefaultOllamaURL is the address of a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// ProviderConfig holds credentials for a registry-created provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// NewOllamaClient talks to the Ollama server at baseURL.
func NewOllamaClient(baseURL string) Client {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return NewIrisClient(ollama.New(ollama.WithBaseURL(baseURL)))
}

// NewClient creates a Client for the named provider. Ollama honors
// BaseURL; the rest are created through the iris provider registry.
func NewClient(name string, cfg ProviderConfig) (Client, error) {
	if strings.EqualFold(name, "ollama") {
		return NewOllamaClient(cfg.BaseURL), nil
	}
	provider, err := providers.Create(name, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return NewIrisClient(provider), nil
}
