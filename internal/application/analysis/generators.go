package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/permeo/internal/domain/ai"
	domain "github.com/bryanwahyu/permeo/internal/domain/analysis"
	"github.com/bryanwahyu/permeo/internal/infra/ai/prompt"
)

const DefaultTimeout = 60 * time.Second

// Generator turns a policy context into a parsed analysis with exactly one
// provider call per operation.
type Generator struct {
	Provider ai.Provider
	Timeout  time.Duration
}

func NewGenerator(p ai.Provider, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{Provider: p, Timeout: timeout}
}

// ask sends one prompt under the configured timeout. Every failure comes back
// wrapping ai.ErrQuotaExceeded or ai.ErrProviderUnavailable.
func (g *Generator) ask(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	out, err := g.Provider.Generate(ctx, text)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ai.ErrQuotaExceeded) || errors.Is(err, ai.ErrProviderUnavailable) {
		return "", err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: no reply within %s", ai.ErrProviderUnavailable, g.Timeout)
	}
	return "", fmt.Errorf("%w: %v", ai.ErrProviderUnavailable, err)
}

func (g *Generator) Recommendations(ctx context.Context, pc domain.PolicyContext) (domain.Recommendation, error) {
	p, err := prompt.Recommendations(pc)
	if err != nil {
		return domain.Recommendation{}, err
	}
	text, err := g.ask(ctx, p)
	if err != nil {
		return domain.Recommendation{}, err
	}
	return domain.ParseRecommendations(text), nil
}

func (g *Generator) RecommendedPolicy(ctx context.Context, pc domain.PolicyContext) (domain.RecommendedPolicy, error) {
	p, err := prompt.RecommendedPolicy(pc)
	if err != nil {
		return domain.RecommendedPolicy{}, err
	}
	text, err := g.ask(ctx, p)
	if err != nil {
		return domain.RecommendedPolicy{}, err
	}
	return domain.ParseRecommendedPolicy(text)
}

func (g *Generator) AttackPath(ctx context.Context, pc domain.PolicyContext) (domain.AttackPath, error) {
	p, err := prompt.AttackPath(pc)
	if err != nil {
		return domain.AttackPath{}, err
	}
	text, err := g.ask(ctx, p)
	if err != nil {
		return domain.AttackPath{}, err
	}
	return domain.ParseAttackPath(text), nil
}
