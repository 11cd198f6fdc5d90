package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

// Embedder is the slice of the embedding client the builder needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Builder runs the offline load -> embed -> upsert pipeline. Builds are
// batch and exclusive: they never run against an index serving query
// traffic.
type Builder struct {
	loader    *Loader
	embedder  Embedder
	index     vector.Index
	batchSize int
}

type BuildReport struct {
	Items      int
	Conditions int
	Topics     int
	Indexed    int64
	Duration   time.Duration
}

func NewBuilder(loader *Loader, embedder Embedder, index vector.Index, batchSize int) *Builder {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Builder{
		loader:    loader,
		embedder:  embedder,
		index:     index,
		batchSize: batchSize,
	}
}

// Build loads every source file, embeds the canonical texts, and upserts the
// items. It verifies afterwards that the index holds at least as many items
// as were ingested.
func (b *Builder) Build(ctx context.Context) (*BuildReport, error) {
	start := time.Now()

	items, err := b.loader.LoadDirectory("*.json")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no items to index")
	}

	stats := Stats(items)
	logger.Info("Dataset loaded",
		zap.Int("items", stats.TotalItems),
		zap.Int("conditions", stats.NumConditions),
		zap.Int("topics", stats.NumTopics),
	)

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}

	embeddings, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed dataset: %w", err)
	}
	if len(embeddings) != len(items) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(items))
	}

	qaItems := make([]vector.QAItem, len(items))
	for i, item := range items {
		qaItems[i] = vector.QAItem{
			ID:       item.ID,
			Text:     item.Text,
			Vector:   embeddings[i],
			Metadata: item.Metadata,
		}
	}

	// Upsert in batches so one failing batch reports progress without
	// re-embedding everything on retry.
	for s := 0; s < len(qaItems); s += b.batchSize {
		e := s + b.batchSize
		if e > len(qaItems) {
			e = len(qaItems)
		}
		if err := b.index.Upsert(ctx, qaItems[s:e]); err != nil {
			return nil, fmt.Errorf("failed to index items %d-%d: %w", s, e-1, err)
		}
	}

	count, err := b.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify index count: %w", err)
	}
	if count < int64(len(items)) {
		return nil, fmt.Errorf("index verification failed: %d items in index, %d ingested", count, len(items))
	}

	report := &BuildReport{
		Items:      stats.TotalItems,
		Conditions: stats.NumConditions,
		Topics:     stats.NumTopics,
		Indexed:    count,
		Duration:   time.Since(start),
	}

	logger.Info("Index build complete",
		zap.Int("items", report.Items),
		zap.Int64("indexed", report.Indexed),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}
