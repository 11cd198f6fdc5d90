package router

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr-chatbot/backend/internal/embedding/mock"
	"github.com/ehr-chatbot/backend/internal/retriever"
	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/internal/vector/memory"
	"github.com/ehr-chatbot/backend/pkg/config"
)

const testDimension = 8

type fixture struct {
	embedder *mock.Embedder
	store    *memory.Store
	router   *Router
}

func newFixture(t *testing.T, detectMismatch bool) *fixture {
	t.Helper()

	cfg := config.SearchConfig{
		HighConfidenceThreshold:   0.83,
		MediumConfidenceThreshold: 0.75,
		DefaultTopK:               3,
		MismatchDiffThreshold:     0.2,
		DetectMismatch:            detectMismatch,
	}

	embedder := mock.NewEmbedder(testDimension)
	store := memory.NewStore()
	r, err := retriever.New(embedder, store, cfg)
	require.NoError(t, err)

	return &fixture{
		embedder: embedder,
		store:    store,
		router:   New(r, cfg),
	}
}

// vecWithCos returns a unit vector whose cosine similarity with the
// reference vector (1, 0, 0, ...) is exactly cos. Under the cosine distance
// calibration that yields similarity (1+cos)/2.
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

func qaItem(id, conditionID string, vec []float32) vector.QAItem {
	return vector.QAItem{
		ID:     id,
		Text:   "سوال " + id,
		Vector: vec,
		Metadata: vector.Metadata{
			ConditionID:   conditionID,
			ConditionName: "نام " + conditionID,
			Topic:         "diet",
			Question:      "سوال " + id,
			Answer:        "جواب " + id,
			FollowUp:      "پیگیری " + id,
			RelatedTopics: "تغذیه, ورزش",
		},
	}
}

// assertSingleVariant checks that only the fields of the tagged variant are
// populated.
func assertSingleVariant(t *testing.T, resp *Response) {
	t.Helper()

	switch resp.Type {
	case TypeDirectAnswer:
		assert.Empty(t, resp.MatchedQuestion)
		assert.Empty(t, resp.Alternatives)
		assert.Empty(t, resp.DetectedConditionID)
		assert.Empty(t, resp.Query)
		assert.False(t, resp.UseLLM)
	case TypeClarification:
		assert.Empty(t, resp.Answer)
		assert.Empty(t, resp.DetectedConditionID)
		assert.False(t, resp.UseLLM)
	case TypeConditionMismatch:
		assert.Empty(t, resp.Answer)
		assert.Empty(t, resp.MatchedQuestion)
		assert.False(t, resp.UseLLM)
	case TypeLLMFallback:
		assert.Empty(t, resp.Answer)
		assert.Empty(t, resp.MatchedQuestion)
		assert.Empty(t, resp.DetectedConditionID)
		assert.True(t, resp.UseLLM)
	case TypeNoResults:
		assert.Empty(t, resp.Answer)
		assert.Empty(t, resp.MatchedQuestion)
		assert.Empty(t, resp.DetectedConditionID)
		assert.Empty(t, resp.Query)
	default:
		t.Fatalf("unknown response type %q", resp.Type)
	}
}

// A diet question with a near-identical stored question answers directly.
func TestRouteDirectAnswer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// cos 0.9 -> similarity 0.95, above the 0.83 high threshold.
	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", vecWithCos(0.9)),
		qaItem("d2", "cond_diabetes", vecWithCos(0.3)),
	}))
	f.embedder.Pin("چه غذاهایی خوبه؟", refVec())

	resp := f.router.Route(ctx, "چه غذاهایی خوبه؟", "cond_diabetes")

	require.Equal(t, TypeDirectAnswer, resp.Type)
	assert.Equal(t, "جواب d1", resp.Answer)
	assert.Equal(t, "پیگیری d1", resp.FollowUp)
	assert.Equal(t, []string{"تغذیه", "ورزش"}, resp.RelatedTopics)
	assert.Equal(t, "knowledge_base", resp.Source)
	assert.GreaterOrEqual(t, resp.Confidence, 0.83)
	assertSingleVariant(t, resp)
}

// A paraphrased question lands in the medium band and asks for confirmation.
func TestRouteClarification(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// cos 0.6 -> similarity 0.8: between 0.75 and 0.83.
	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", vecWithCos(0.6)),
		qaItem("d2", "cond_diabetes", vecWithCos(0.4)),
		qaItem("d3", "cond_diabetes", vecWithCos(0.3)),
		qaItem("d4", "cond_diabetes", vecWithCos(0.2)),
	}))
	f.embedder.Pin("query", refVec())

	resp := f.router.Route(ctx, "query", "cond_diabetes")

	require.Equal(t, TypeClarification, resp.Type)
	assert.Equal(t, "سوال d1", resp.MatchedQuestion)
	assert.Equal(t, "جواب d1", resp.MatchedAnswer)
	assert.Contains(t, resp.Message, "سوال d1")
	// At most two alternatives, best-first, never including the best match.
	assert.Equal(t, []string{"سوال d2", "سوال d3"}, resp.Alternatives)
	assertSingleVariant(t, resp)
}

// A question about another condition is redirected, not answered.
func TestRouteConditionMismatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// In-scope best: cos 0.0 -> similarity 0.5 (low). Global best under the
	// hypertension condition: cos 0.9 -> similarity 0.95. Diff 0.45 >= 0.2.
	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", vecWithCos(0.0)),
		qaItem("h1", "cond_hypertension", vecWithCos(0.9)),
	}))
	f.embedder.Pin("فشار خونم بالاست", refVec())

	resp := f.router.Route(ctx, "فشار خونم بالاست", "cond_diabetes")

	require.Equal(t, TypeConditionMismatch, resp.Type)
	assert.Equal(t, "cond_hypertension", resp.DetectedConditionID)
	assert.Equal(t, "نام cond_hypertension", resp.DetectedConditionName)
	assert.Equal(t, "cond_diabetes", resp.CurrentConditionID)
	assert.Contains(t, resp.Message, "نام cond_hypertension")
	assert.NotEmpty(t, resp.Suggestion)
	assertSingleVariant(t, resp)
}

// A weak match with no better condition elsewhere falls back to the LLM.
func TestRouteLLMFallback(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// cos 0.1 -> similarity 0.55: low, and the in-scope item is also the
	// global best, so no mismatch fires.
	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", vecWithCos(0.1)),
	}))
	f.embedder.Pin("سوال نامربوط", refVec())

	resp := f.router.Route(ctx, "سوال نامربوط", "cond_diabetes")

	require.Equal(t, TypeLLMFallback, resp.Type)
	assert.True(t, resp.UseLLM)
	assert.Equal(t, "سوال نامربوط", resp.Query)
	assert.Equal(t, "cond_diabetes", resp.ConditionID)
	require.NotNil(t, resp.BestMatch)
	assert.Equal(t, "d1", resp.BestMatch.ID)
	assertSingleVariant(t, resp)
}

// An empty in-scope slice yields no_results, never a nil dereference.
func TestRouteNoResults(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Content exists, just none under the scoped condition.
	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("h1", "cond_hypertension", vecWithCos(0.9)),
	}))

	resp := f.router.Route(ctx, "سوال", "cond_rare")

	require.Equal(t, TypeNoResults, resp.Type)
	assert.NotEmpty(t, resp.Message)
	assertSingleVariant(t, resp)
}

func TestRouteNoResultsEmptyIndex(t *testing.T) {
	f := newFixture(t, true)

	resp := f.router.Route(context.Background(), "سوال", "cond_diabetes")
	assert.Equal(t, TypeNoResults, resp.Type)
}

// Retrieval failure degrades to a fallback without a best match.
func TestRouteDegradedOnRetrievalFailure(t *testing.T) {
	f := newFixture(t, true)
	f.embedder.Fail(assert.AnError)

	resp := f.router.Route(context.Background(), "سوال", "cond_diabetes")

	require.Equal(t, TypeLLMFallback, resp.Type)
	assert.True(t, resp.UseLLM)
	assert.Nil(t, resp.BestMatch)
	assert.Equal(t, "سوال", resp.Query)
}

// With detection disabled a low-confidence cross-condition query still falls
// back instead of redirecting.
func TestRouteMismatchDetectionDisabled(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", vecWithCos(0.0)),
		qaItem("h1", "cond_hypertension", vecWithCos(0.9)),
	}))
	f.embedder.Pin("فشار خونم بالاست", refVec())

	resp := f.router.Route(ctx, "فشار خونم بالاست", "cond_diabetes")
	assert.Equal(t, TypeLLMFallback, resp.Type)
}

// Medium confidence with a single result carries no alternatives.
func TestRouteClarificationNoAlternatives(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.store.Upsert(ctx, []vector.QAItem{
		qaItem("d1", "cond_diabetes", vecWithCos(0.6)),
	}))
	f.embedder.Pin("query", refVec())

	resp := f.router.Route(ctx, "query", "cond_diabetes")

	require.Equal(t, TypeClarification, resp.Type)
	assert.Empty(t, resp.Alternatives)
}

func TestSplitTopics(t *testing.T) {
	assert.Nil(t, splitTopics(""))
	assert.Equal(t, []string{"تغذیه"}, splitTopics("تغذیه"))
	assert.Equal(t, []string{"تغذیه", "ورزش", "دارو"}, splitTopics("تغذیه, ورزش,دارو"))
	assert.Equal(t, []string{"تغذیه"}, splitTopics("تغذیه, , "))
}
