// Package reason calls the external reasoning function that turns a fact
// group into a draft rule. Providers are interchangeable black boxes; every
// response is parsed through a strict schema before anything downstream
// sees it, and a response that does not fit is rejected, never coerced.
package reason

import (
	"context"

	"github.com/normativhq/normativ/internal/model"
)

// Provider defines the interface for reasoning-function backends
type Provider interface {
	// Name returns the provider name
	Name() string

	// Compose asks the backend to draft a rule from a fact group
	Compose(ctx context.Context, req ComposeRequest) (*ComposeResponse, error)

	// IsAvailable checks if the provider is properly configured and reachable
	IsAvailable(ctx context.Context) bool
}

// ComposeRequest carries the fact group and its context to the backend
type ComposeRequest struct {
	// Facts share one grouping key; the prompt presents them together
	Facts []model.Fact

	// Documents are the sources the facts quote, for citation context
	Documents []model.SourceDocument

	// Slugs is the allowlist of canonical concept slugs the draft may use
	Slugs []string

	// Prompt overrides the default prompt when set
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// ComposeResponse is the validated draft plus call accounting
type ComposeResponse struct {
	// Draft already passed the strict schema
	Draft Draft

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}
