package ai

import "context"

// Provider is the language-model capability. One call, one completion.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
