package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"novel-engine/internal/config"

	"go.uber.org/zap"
)

// GenerationProvider - внешний генератор текста и эмбеддингов.
// Ненадежен: может превысить таймаут, вернуть мусор или упереться в квоту.
type GenerationProvider interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Usage - учет токенов одного вызова.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Options - параметры клиента, не зависящие от реализации.
type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingDims  int
	HTTPClient     *http.Client
	Tokens         TokenCounter
}

// OptionsFromConfig собирает Options из конфигурации воркера.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:        cfg.AIBaseURL,
		APIKey:         cfg.AIAPIKey,
		Model:          cfg.AIModel,
		EmbeddingModel: cfg.AIEmbeddingModel,
		EmbeddingDims:  cfg.VectorDimension,
		HTTPClient:     &http.Client{Timeout: cfg.AITimeout},
	}
}

// NewGenerationProvider создает клиента по AI_CLIENT_TYPE и оборачивает его лимитером.
func NewGenerationProvider(cfg *config.Config, logger *zap.Logger) (GenerationProvider, error) {
	opts := OptionsFromConfig(cfg)
	opts.Tokens = NewTiktokenCounter(cfg.AIModel)

	var (
		p   GenerationProvider
		err error
	)
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		p, err = NewOpenAIProvider(opts, logger)
	case "ollama":
		p, err = NewOllamaProvider(opts, logger)
	default:
		return nil, fmt.Errorf("unknown AI client type: '%s'", cfg.AIClientType)
	}
	if err != nil {
		return nil, err
	}
	return NewRateLimitedProvider(p, cfg.AIRequestsPerSec, cfg.AIBurst), nil
}

// normalizeEmbeddings проверяет, что провайдер вернул по вектору на каждый текст.
func normalizeEmbeddings(texts []string, vectors [][]float32) ([][]float32, error) {
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
	}
	return vectors, nil
}
