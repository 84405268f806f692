package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns texts into vectors, one output per input in the same order
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// EmbedderConfig configures an OpenAI-compatible embedding endpoint
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int // texts per request; large enough that a document is one request
}

// DefaultEmbeddingBatchSize covers the page ceiling with room to spare
const DefaultEmbeddingBatchSize = 1024

// OpenAIEmbedder implements Embedder with langchaingo
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
}

// NewOpenAIEmbedder creates an embedder for any OpenAI-compatible API
func NewOpenAIEmbedder(config EmbedderConfig) (*OpenAIEmbedder, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultEmbeddingBatchSize
	}
	token := config.APIKey
	if token == "" {
		// local OpenAI-compatible servers usually skip auth
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &OpenAIEmbedder{embedder: embedder, model: config.Model}, nil
}

// EmbedTexts embeds all texts in a single batched request
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, ErrNoEmbeddings
	}
	return vectors, nil
}

// Model returns the embedding model name
func (e *OpenAIEmbedder) Model() string {
	return e.model
}
