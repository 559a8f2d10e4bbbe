package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"novel-engine/shared/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const ollamaProviderName = "ollama"

// ollamaProvider реализует GenerationProvider через нативный API Ollama
type ollamaProvider struct {
	client         *api.Client
	model          string
	embeddingModel string
	tokens         TokenCounter
	logger         *zap.Logger
}

// NewOllamaProvider создает клиента Ollama.
func NewOllamaProvider(opts Options, logger *zap.Logger) (GenerationProvider, error) {
	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL '%s': %w", baseURL, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = RuneEstimate{}
	}
	embeddingModel := opts.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = opts.Model
	}
	logger = logger.Named("OllamaProvider")
	logger.Info("Ollama client created", zap.String("base_url", baseURL), zap.String("model", opts.Model))
	return &ollamaProvider{
		client:         api.NewClient(parsedURL, httpClient),
		model:          opts.Model,
		embeddingModel: embeddingModel,
		tokens:         tokens,
		logger:         logger,
	}, nil
}

func (p *ollamaProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", models.ErrGenerationFailed)
	}
	stream := false
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}

	started := time.Now()
	var resp api.ChatResponse
	err := p.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err == nil && strings.TrimSpace(resp.Message.Content) == "" {
		err = models.ErrEmptyResponse
	}
	observeRequest(ollamaProviderName, p.model, "generate", started, err)
	if err != nil {
		p.logger.Warn("Ollama chat failed", zap.Duration("duration", time.Since(started)), zap.Error(err))
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}

	usage := Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = Usage{PromptTokens: p.tokens.Count(prompt), CompletionTokens: p.tokens.Count(resp.Message.Content)}
	}
	observeUsage(ollamaProviderName, p.model, usage)
	return resp.Message.Content, nil
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	started := time.Now()
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.embeddingModel, Input: texts})
	observeRequest(ollamaProviderName, p.embeddingModel, "embed", started, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}
	vectors, err := normalizeEmbeddings(texts, resp.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}
	return vectors, nil
}
