package milvus

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want entity.MetricType
	}{
		{"cosine", "COSINE", entity.COSINE},
		{"cosine lowercase", "cosine", entity.COSINE},
		{"empty defaults to cosine", "", entity.COSINE},
		{"l2", "L2", entity.L2},
		{"inner product", "IP", entity.IP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMetric(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := parseMetric("HAMMING")
		assert.Error(t, err)
	})
}

func TestScoreToDistance(t *testing.T) {
	t.Run("cosine score is a similarity", func(t *testing.T) {
		c := &Client{metricType: entity.COSINE}
		assert.InDelta(t, 0, c.scoreToDistance(1), 1e-9)
		assert.InDelta(t, 0.4, c.scoreToDistance(0.6), 1e-9)
		assert.InDelta(t, 2, c.scoreToDistance(-1), 1e-9)
	})

	t.Run("l2 score passes through", func(t *testing.T) {
		c := &Client{metricType: entity.L2}
		assert.InDelta(t, 0, c.scoreToDistance(0), 1e-9)
		assert.InDelta(t, 1.7, c.scoreToDistance(1.7), 1e-9)
	})

	t.Run("ip score is a similarity", func(t *testing.T) {
		c := &Client{metricType: entity.IP}
		assert.InDelta(t, 0.2, c.scoreToDistance(0.8), 1e-9)
	})
}

func TestBuildFilterExpr(t *testing.T) {
	tests := []struct {
		name    string
		filters map[string]string
		want    string
	}{
		{"nil map", nil, ""},
		{"empty map", map[string]string{}, ""},
		{
			"condition only",
			map[string]string{"condition_id": "cond_diabetes"},
			`condition_id == "cond_diabetes"`,
		},
		{
			"condition and topic conjunction",
			map[string]string{"condition_id": "cond_diabetes", "topic": "diet"},
			`condition_id == "cond_diabetes" && topic == "diet"`,
		},
		{
			"empty value skipped",
			map[string]string{"condition_id": "", "topic": "diet"},
			`topic == "diet"`,
		},
		{
			"unknown field ignored",
			map[string]string{"answer": "x", "topic": "diet"},
			`topic == "diet"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildFilterExpr(tt.filters))
		})
	}
}

func TestBuildFilterExprDeterministicOrder(t *testing.T) {
	// Clause order follows vector.FilterFields, not map iteration order.
	filters := map[string]string{"topic": "diet", "condition_id": "c1"}
	for i := 0; i < 20; i++ {
		assert.Equal(t, `condition_id == "c1" && topic == "diet"`, BuildFilterExpr(filters))
	}
}

func TestEscapeFilterValue(t *testing.T) {
	assert.Equal(t, "plain", escapeFilterValue("plain"))
	assert.Equal(t, `a\"b`, escapeFilterValue(`a"b`))
	assert.Equal(t, `a\\b`, escapeFilterValue(`a\b`))
	assert.Equal(t, `a\\\"b`, escapeFilterValue(`a\"b`))
}
