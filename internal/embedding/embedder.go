// Package embedding turns text into fixed-dimension vectors. One client is
// created per process and shared read-only across concurrent queries; the
// OpenAI calls behind it are guarded by a retry policy and a circuit breaker.
package embedding

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/pkg/circuitbreaker"
	"github.com/ehr-chatbot/backend/pkg/logger"
	"github.com/ehr-chatbot/backend/pkg/retry"
	"github.com/ehr-chatbot/backend/pkg/utils"
)

// Cache is an optional write-through store for computed embeddings, keyed by
// a hash of the input text. A nil Cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

const cacheTTL = 24 * time.Hour

type Client struct {
	client      *openai.Client
	model       string
	dimension   int
	batchSize   int
	timeout     time.Duration
	cache       Cache
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// NewClient validates the model configuration and builds the shared
// embedder. A nil cache is allowed.
func NewClient(apiKey, model string, dimension, batchSize, timeoutSec int, cache Cache) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrModelLoad)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrModelLoad)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", ErrModelLoad, dimension)
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if timeoutSec <= 0 {
		timeoutSec = 15
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized",
		zap.String("model", model),
		zap.Int("dimension", dimension),
	)

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		dimension:   dimension,
		batchSize:   batchSize,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cache:       cache,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

// Dimension reports the configured output dimension so the index schema and
// tests can assert consistency.
func (c *Client) Dimension() int {
	return c.dimension
}

// EmbedText encodes a single text. Empty text is a valid, if uninformative,
// query and yields a valid vector.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrEncoding)
	}

	textHash := utils.HashString(text)
	if c.cache != nil {
		if cached, ok, err := c.cache.GetEmbedding(ctx, textHash); err == nil && ok {
			return cached, nil
		}
	}

	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, textHash, vectors[0], cacheTTL); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return vectors[0], nil
}

// EmbedTexts encodes texts in configured-size batches, preserving input
// order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	for _, text := range texts {
		if !utf8.ValidString(text) {
			return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrEncoding)
		}
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := make([]string, len(texts))
	for i, text := range texts {
		// The backend rejects zero-length inputs; a single space keeps
		// empty text a valid query.
		if text == "" {
			text = " "
		}
		input[i] = text
	}

	var embeddings [][]float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: input,
				Model: openai.EmbeddingModel(c.model),
			})
			if err != nil {
				return fmt.Errorf("failed to create embeddings: %w", err)
			}

			if len(resp.Data) != len(input) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(input))
			}

			embeddings = make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				if len(data.Embedding) != c.dimension {
					return fmt.Errorf("embedding dimension mismatch: model returned %d, configured %d",
						len(data.Embedding), c.dimension)
				}
				embeddings[i] = data.Embedding
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return embeddings, nil
}
