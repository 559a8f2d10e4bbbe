package provider

import (
	"context"
	"fmt"

	"novel-engine/shared/models"

	"golang.org/x/time/rate"
)

// rateLimitedProvider ограничивает частоту вызовов провайдера.
// Ожидание токена учитывает ctx: если дедлайн наступит раньше, вызов не выполняется.
type rateLimitedProvider struct {
	inner   GenerationProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider оборачивает провайдера лимитером. rps <= 0 отключает ограничение.
func NewRateLimitedProvider(inner GenerationProvider, rps float64, burst int) GenerationProvider {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedProvider{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p *rateLimitedProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		providerThrottledTotal.Inc()
		return "", fmt.Errorf("%w: rate limit: %w", models.ErrGenerationFailed, err)
	}
	return p.inner.Generate(ctx, prompt, maxTokens, temperature)
}

func (p *rateLimitedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		providerThrottledTotal.Inc()
		return nil, fmt.Errorf("%w: rate limit: %w", models.ErrEmbeddingFailed, err)
	}
	return p.inner.Embed(ctx, texts)
}
