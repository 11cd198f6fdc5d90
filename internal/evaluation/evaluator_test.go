package evaluation

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr-chatbot/backend/internal/embedding/mock"
	"github.com/ehr-chatbot/backend/internal/retriever"
	"github.com/ehr-chatbot/backend/internal/router"
	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/internal/vector/memory"
	"github.com/ehr-chatbot/backend/pkg/config"
)

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		path := write("ok.json", `[
			{"query": "چه غذاهایی خوبه؟", "condition_id": "cond_diabetes", "expected_response_type": "direct_answer"},
			{"query": "فشار خونم بالاست", "condition_id": "cond_diabetes", "expected_response_type": "condition_mismatch"}
		]`)

		items, err := LoadDataset(path)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "direct_answer", items[0].ExpectedType)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadDataset(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		path := write("bad.json", "{{")
		_, err := LoadDataset(path)
		assert.Error(t, err)
	})

	t.Run("missing label field", func(t *testing.T) {
		path := write("incomplete.json", `[{"query": "x", "condition_id": "c"}]`)
		_, err := LoadDataset(path)
		assert.Error(t, err)
	})
}

func TestEvaluate(t *testing.T) {
	cfg := config.SearchConfig{
		HighConfidenceThreshold:   0.83,
		MediumConfidenceThreshold: 0.75,
		DefaultTopK:               3,
		MismatchDiffThreshold:     0.2,
		DetectMismatch:            true,
	}

	embedder := mock.NewEmbedder(8)
	store := memory.NewStore()
	r, err := retriever.New(embedder, store, cfg)
	require.NoError(t, err)
	evaluator := NewEvaluator(router.New(r, cfg))
	ctx := context.Background()

	// Reference vector and an item at a chosen cosine against it, so each
	// labeled query lands in a known confidence band.
	ref := make([]float32, 8)
	ref[0] = 1
	itemVec := func(cos float64) []float32 {
		vec := make([]float32, 8)
		vec[0] = float32(cos)
		vec[1] = float32(math.Sqrt(1 - cos*cos))
		return vec
	}

	require.NoError(t, store.Upsert(ctx, []vector.QAItem{
		{
			ID: "d1", Text: "x", Vector: itemVec(0.9),
			Metadata: vector.Metadata{ConditionID: "cond_diabetes", ConditionName: "دیابت", Topic: "t", Question: "q1", Answer: "a1"},
		},
	}))

	// cos 0.9 -> similarity 0.95 (direct_answer); an unpinned query embeds
	// to an unrelated deterministic vector and routes elsewhere.
	embedder.Pin("سوال نزدیک", ref)

	items := []LabeledQuery{
		{Query: "سوال نزدیک", ConditionID: "cond_diabetes", ExpectedType: "direct_answer"},
		{Query: "سوال بی‌ربط به شرط خالی", ConditionID: "cond_empty", ExpectedType: "no_results"},
		{Query: "سوال نزدیک", ConditionID: "cond_diabetes", ExpectedType: "clarification"},
	}

	report, err := evaluator.Evaluate(ctx, items)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Correct)
	assert.InDelta(t, 2.0/3.0, report.Accuracy, 1e-9)

	assert.Equal(t, 1, report.ExpectedCounts["direct_answer"])
	assert.Equal(t, 1, report.ExpectedCounts["clarification"])
	assert.Equal(t, 2, report.ActualCounts["direct_answer"])
	assert.Equal(t, 1, report.ActualCounts["no_results"])

	require.Len(t, report.Mistakes, 1)
	assert.Equal(t, "clarification", report.Mistakes[0].Expected)
	assert.Equal(t, "direct_answer", report.Mistakes[0].Actual)

	assert.InDelta(t, 0.95, report.MeanConfidence, 1e-6)
}

func TestEvaluateEmptyDataset(t *testing.T) {
	evaluator := NewEvaluator(nil)
	_, err := evaluator.Evaluate(context.Background(), nil)
	assert.Error(t, err)
}
