package reason

import (
	"fmt"
	"strings"

	"github.com/normativhq/normativ/internal/model"
)

// NewProvider creates a reasoning provider based on configuration.
// An empty provider name returns nil: reasoning disabled, composition
// jobs fail until one is configured.
func NewProvider(cfg model.ReasonConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg)

	case "anthropic", "claude":
		return NewAnthropicProvider(cfg)

	case "ollama":
		return NewOllamaProvider(cfg)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown reasoning provider: %s (supported: openai, anthropic, ollama)", cfg.Provider)
	}
}
