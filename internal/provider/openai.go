package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"novel-engine/shared/models"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const openAIProviderName = "openai"

// openAIProvider реализует GenerationProvider через OpenAI-совместимый API (OpenRouter, OpenAI, vLLM).
type openAIProvider struct {
	client         *openaigo.Client
	model          string
	embeddingModel string
	embeddingDims  int
	tokens         TokenCounter
	logger         *zap.Logger
}

// NewOpenAIProvider создает клиента OpenAI-совместимого API.
func NewOpenAIProvider(opts Options, logger *zap.Logger) (GenerationProvider, error) {
	if opts.Model == "" {
		return nil, errors.New("openai provider: model is required")
	}
	clientCfg := openaigo.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		clientCfg.HTTPClient = opts.HTTPClient
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = RuneEstimate{}
	}
	logger = logger.Named("OpenAIProvider")
	logger.Info("OpenAI client created",
		zap.String("base_url", clientCfg.BaseURL),
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)
	return &openAIProvider{
		client:         openaigo.NewClientWithConfig(clientCfg),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		embeddingDims:  opts.EmbeddingDims,
		tokens:         tokens,
		logger:         logger,
	}, nil
}

func (p *openAIProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", models.ErrGenerationFailed)
	}
	req := openaigo.ChatCompletionRequest{
		Model: p.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}

	started := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err == nil && (len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "") {
		err = models.ErrEmptyResponse
	}
	observeRequest(openAIProviderName, p.model, "generate", started, err)
	if err != nil {
		p.logger.Warn("Chat completion failed",
			zap.Duration("duration", time.Since(started)),
			zap.Int("prompt_chars", len([]rune(prompt))),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}

	text := resp.Choices[0].Message.Content
	usage := Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = Usage{PromptTokens: p.tokens.Count(prompt), CompletionTokens: p.tokens.Count(text)}
	}
	observeUsage(openAIProviderName, p.model, usage)
	p.logger.Debug("Chat completion received",
		zap.Duration("duration", time.Since(started)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)
	return text, nil
}

func (p *openAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openaigo.EmbeddingRequest{
		Input: texts,
		Model: openaigo.EmbeddingModel(p.embeddingModel),
	}
	// Размерность задается только моделям text-embedding-3, остальные ее не принимают
	if p.embeddingDims > 0 && strings.HasPrefix(p.embeddingModel, "text-embedding-3") {
		req.Dimensions = p.embeddingDims
	}

	started := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, req)
	observeRequest(openAIProviderName, p.embeddingModel, "embed", started, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	vectors, err = normalizeEmbeddings(texts, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailed, err)
	}
	return vectors, nil
}
