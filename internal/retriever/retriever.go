// Package retriever composes the embedder and the vector index: it embeds a
// query, runs a filtered nearest-neighbor search, converts distances to
// similarities, and attaches a confidence tier. It also hosts the condition
// mismatch detector built on top of the two search forms.
package retriever

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/pkg/config"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

var (
	ErrEmbedderRequired = errors.New("retriever: embedder is required")
	ErrIndexRequired    = errors.New("retriever: index is required")
)

// Confidence is the discrete tier derived from a similarity score. It drives
// response routing.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Embedder is the slice of the embedding client the retriever needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// SearchResult is produced fresh per query and never persisted.
type SearchResult struct {
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	Metadata   vector.Metadata `json:"metadata"`
	Similarity float64         `json:"similarity"`
	Distance   float64         `json:"distance"`
	Confidence Confidence      `json:"confidence_level"`
}

// SearchOptions scope a search. Zero values mean: no condition filter, no
// topic filter, configured default topK.
type SearchOptions struct {
	ConditionID string
	Topic       string
	TopK        int
}

type Retriever struct {
	embedder      Embedder
	index         vector.Index
	highThreshold float64
	medThreshold  float64
	defaultTopK   int
	diffThreshold float64
}

// New wires the shared embedder and index into a retriever. Both are
// injected; the retriever never initializes backends itself.
func New(embedder Embedder, index vector.Index, cfg config.SearchConfig) (*Retriever, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}

	return &Retriever{
		embedder:      embedder,
		index:         index,
		highThreshold: cfg.HighConfidenceThreshold,
		medThreshold:  cfg.MediumConfidenceThreshold,
		defaultTopK:   cfg.DefaultTopK,
		diffThreshold: cfg.MismatchDiffThreshold,
	}, nil
}

// Search embeds the query, applies the metadata filter built from opts, and
// scores the nearest neighbors. An empty result set is a valid outcome, not
// an error.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	queryVector, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}

	filters := buildFilters(opts.ConditionID, opts.Topic)

	matches, err := r.index.Search(ctx, queryVector, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	results := make([]SearchResult, len(matches))
	for i, match := range matches {
		similarity := similarityFromDistance(match.Distance)
		results[i] = SearchResult{
			ID:         match.ID,
			Text:       match.Text,
			Metadata:   match.Metadata,
			Similarity: similarity,
			Distance:   match.Distance,
			Confidence: r.confidenceFor(similarity),
		}
	}

	logger.Debug("Search completed",
		zap.String("condition_id", opts.ConditionID),
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// SearchWithinCondition forces the condition filter. This is the primary
// chatbot path.
func (r *Retriever) SearchWithinCondition(ctx context.Context, query, conditionID string, topK int) ([]SearchResult, error) {
	return r.Search(ctx, query, SearchOptions{ConditionID: conditionID, TopK: topK})
}

// SearchAllConditions searches the whole index. Used only by the mismatch
// detector.
func (r *Retriever) SearchAllConditions(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	return r.Search(ctx, query, SearchOptions{TopK: topK})
}

// Stats reports engine-level numbers for the stats endpoint and the indexer.
type Stats struct {
	TotalItems                int64   `json:"total_items"`
	EmbeddingDimension        int     `json:"embedding_dimension"`
	HighConfidenceThreshold   float64 `json:"high_confidence_threshold"`
	MediumConfidenceThreshold float64 `json:"medium_confidence_threshold"`
}

func (r *Retriever) Stats(ctx context.Context) (Stats, error) {
	count, err := r.index.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count index items: %w", err)
	}

	return Stats{
		TotalItems:                count,
		EmbeddingDimension:        r.embedder.Dimension(),
		HighConfidenceThreshold:   r.highThreshold,
		MediumConfidenceThreshold: r.medThreshold,
	}, nil
}

func buildFilters(conditionID, topic string) map[string]string {
	filters := make(map[string]string)
	if conditionID != "" {
		filters["condition_id"] = conditionID
	}
	if topic != "" {
		filters["topic"] = topic
	}
	return filters
}

// similarityFromDistance maps a raw distance to [0, 1]. The constant 2 is
// the maximum cosine distance on normalized vectors; the formula is a
// backend calibration, not metric-agnostic. Changing the index metric means
// changing this conversion.
func similarityFromDistance(distance float64) float64 {
	similarity := 1 - distance/2
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// confidenceFor is a pure function of the similarity and the two configured
// thresholds.
func (r *Retriever) confidenceFor(similarity float64) Confidence {
	switch {
	case similarity >= r.highThreshold:
		return ConfidenceHigh
	case similarity >= r.medThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
