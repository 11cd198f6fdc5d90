package retriever

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr-chatbot/backend/internal/embedding/mock"
	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/internal/vector/memory"
	"github.com/ehr-chatbot/backend/pkg/config"
)

const testDimension = 8

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		HighConfidenceThreshold:   0.83,
		MediumConfidenceThreshold: 0.75,
		DefaultTopK:               3,
		MismatchDiffThreshold:     0.2,
		DetectMismatch:            true,
	}
}

func newTestRetriever(t *testing.T, embedder Embedder, index vector.Index) *Retriever {
	t.Helper()

	r, err := New(embedder, index, testSearchConfig())
	require.NoError(t, err)
	return r
}

// vecWithCos returns a unit vector whose cosine similarity with the
// reference vector (1, 0, 0, ...) is exactly cos.
func vecWithCos(cos float64) []float32 {
	sin := math.Sqrt(1 - cos*cos)
	vec := make([]float32, testDimension)
	vec[0] = float32(cos)
	vec[1] = float32(sin)
	return vec
}

func refVec() []float32 {
	vec := make([]float32, testDimension)
	vec[0] = 1
	return vec
}

func qaItem(id, conditionID, topic string, vec []float32) vector.QAItem {
	return vector.QAItem{
		ID:     id,
		Text:   "متن " + id,
		Vector: vec,
		Metadata: vector.Metadata{
			ConditionID:   conditionID,
			ConditionName: "نام " + conditionID,
			Topic:         topic,
			Question:      "سوال " + id,
			Answer:        "جواب " + id,
		},
	}
}

func TestNew(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()

	t.Run("valid", func(t *testing.T) {
		r, err := New(embedder, store, testSearchConfig())
		require.NoError(t, err)
		assert.NotNil(t, r)
	})

	t.Run("nil embedder", func(t *testing.T) {
		_, err := New(nil, store, testSearchConfig())
		assert.Equal(t, ErrEmbedderRequired, err)
	})

	t.Run("nil index", func(t *testing.T) {
		_, err := New(embedder, nil, testSearchConfig())
		assert.Equal(t, ErrIndexRequired, err)
	})
}

func TestSimilarityFromDistance(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{"identical vectors", 0, 1},
		{"quarter distance", 0.5, 0.75},
		{"half distance", 1, 0.5},
		{"maximum distance", 2, 0},
		{"beyond maximum clamps to zero", 3, 0},
		{"negative distance clamps to one", -0.1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, similarityFromDistance(tt.distance), 1e-9)
		})
	}
}

func TestSimilarityMonotonicInDistance(t *testing.T) {
	prev := 1.0
	for d := 0.0; d <= 2.5; d += 0.1 {
		s := similarityFromDistance(d)
		assert.GreaterOrEqual(t, prev, s, "similarity must not increase with distance")
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
}

func TestConfidenceFor(t *testing.T) {
	r := newTestRetriever(t, mock.NewEmbedder(testDimension), memory.NewStore())

	tests := []struct {
		similarity float64
		want       Confidence
	}{
		{1.0, ConfidenceHigh},
		{0.83, ConfidenceHigh},
		{0.829999, ConfidenceMedium},
		{0.79, ConfidenceMedium},
		{0.75, ConfidenceMedium},
		{0.749999, ConfidenceLow},
		{0.3, ConfidenceLow},
		{0, ConfidenceLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.confidenceFor(tt.similarity), "similarity %f", tt.similarity)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	r := newTestRetriever(t, mock.NewEmbedder(testDimension), memory.NewStore())

	results, err := r.Search(context.Background(), "هر چیزی", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchWithinConditionFilterCorrectness(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", "diet", vecWithCos(0.9)),
		qaItem("d2", "cond_diabetes", "symptoms", vecWithCos(0.5)),
		qaItem("h1", "cond_hypertension", "diet", vecWithCos(0.95)),
	}))

	r := newTestRetriever(t, embedder, store)
	embedder.Pin("query", refVec())

	results, err := r.SearchWithinCondition(ctx, "query", "cond_diabetes", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, "cond_diabetes", result.Metadata.ConditionID)
	}
}

func TestSearchTopicFilter(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", "diet", vecWithCos(0.9)),
		qaItem("d2", "cond_diabetes", "symptoms", vecWithCos(0.95)),
	}))

	r := newTestRetriever(t, embedder, store)
	embedder.Pin("query", refVec())

	results, err := r.Search(ctx, "query", SearchOptions{ConditionID: "cond_diabetes", Topic: "diet"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
}

func TestSearchOrderingAndScores(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vector.QAItem{
		qaItem("far", "cond_diabetes", "t", vecWithCos(0.2)),
		qaItem("near", "cond_diabetes", "t", vecWithCos(0.9)),
		qaItem("mid", "cond_diabetes", "t", vecWithCos(0.6)),
	}))

	r := newTestRetriever(t, embedder, store)
	embedder.Pin("query", refVec())

	results, err := r.Search(ctx, "query", SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "mid", results[1].ID)
	assert.Equal(t, "far", results[2].ID)

	// cos 0.9 -> distance 0.1 -> similarity 0.95
	assert.InDelta(t, 0.95, results[0].Similarity, 1e-6)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-6)
	assert.InDelta(t, 0.6, results[2].Similarity, 1e-6)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearchIdempotent(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vector.QAItem{
		qaItem("a", "cond_diabetes", "t", vecWithCos(0.7)),
		qaItem("b", "cond_diabetes", "t", vecWithCos(0.8)),
		qaItem("c", "cond_diabetes", "t", vecWithCos(0.9)),
	}))

	r := newTestRetriever(t, embedder, store)

	first, err := r.Search(ctx, "سوال تکراری", SearchOptions{TopK: 3})
	require.NoError(t, err)
	second, err := r.Search(ctx, "سوال تکراری", SearchOptions{TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSearchDefaultTopK(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	ctx := context.Background()

	items := make([]vector.QAItem, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, qaItem(id, "cond_diabetes", "t", vecWithCos(0.5)))
	}
	require.NoError(t, store.Upsert(ctx, items))

	r := newTestRetriever(t, embedder, store)

	// TopK unset falls back to the configured default of 3.
	results, err := r.Search(ctx, "query", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchEmbedFailure(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	r := newTestRetriever(t, embedder, memory.NewStore())

	embedder.Fail(assert.AnError)

	_, err := r.Search(context.Background(), "query", SearchOptions{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStats(t *testing.T) {
	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vector.QAItem{
		qaItem("a", "cond_diabetes", "t", vecWithCos(0.5)),
		qaItem("b", "cond_diabetes", "t", vecWithCos(0.6)),
	}))

	r := newTestRetriever(t, embedder, store)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalItems)
	assert.Equal(t, testDimension, stats.EmbeddingDimension)
	assert.Equal(t, 0.83, stats.HighConfidenceThreshold)
	assert.Equal(t, 0.75, stats.MediumConfidenceThreshold)
}
