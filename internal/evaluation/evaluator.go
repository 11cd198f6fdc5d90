// Package evaluation replays a labeled query set through the response
// router and reports how often the routed variant matches the label. This is
// the calibration loop for the confidence thresholds and the mismatch diff
// threshold, which are empirical constants, not derived ones.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/router"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

// LabeledQuery is one ground-truth example: a query, the condition the user
// had selected, and the variant a well-calibrated engine should produce.
type LabeledQuery struct {
	Query        string `json:"query"`
	ConditionID  string `json:"condition_id"`
	ExpectedType string `json:"expected_response_type"`
}

type Report struct {
	Total          int            `json:"total"`
	Correct        int            `json:"correct"`
	Accuracy       float64        `json:"accuracy"`
	ExpectedCounts map[string]int `json:"expected_counts"`
	ActualCounts   map[string]int `json:"actual_counts"`
	Mistakes       []Mistake      `json:"mistakes,omitempty"`
	MeanConfidence float64        `json:"mean_confidence"`
}

type Mistake struct {
	Query    string `json:"query"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type Evaluator struct {
	router *router.Router
}

func NewEvaluator(r *router.Router) *Evaluator {
	return &Evaluator{router: r}
}

// LoadDataset reads a JSON array of labeled queries.
func LoadDataset(path string) ([]LabeledQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var items []LabeledQuery
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	for i, item := range items {
		if item.Query == "" || item.ConditionID == "" || item.ExpectedType == "" {
			return nil, fmt.Errorf("dataset item %d is missing query, condition_id, or expected_response_type", i)
		}
	}

	return items, nil
}

// Evaluate routes every labeled query and tallies expected vs actual
// variants.
func (e *Evaluator) Evaluate(ctx context.Context, items []LabeledQuery) (*Report, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("empty dataset")
	}

	report := &Report{
		Total:          len(items),
		ExpectedCounts: make(map[string]int),
		ActualCounts:   make(map[string]int),
	}

	var confidenceSum float64
	var confidenceCount int

	for _, item := range items {
		response := e.router.Route(ctx, item.Query, item.ConditionID)
		actual := string(response.Type)

		report.ExpectedCounts[item.ExpectedType]++
		report.ActualCounts[actual]++

		if actual == item.ExpectedType {
			report.Correct++
		} else {
			report.Mistakes = append(report.Mistakes, Mistake{
				Query:    item.Query,
				Expected: item.ExpectedType,
				Actual:   actual,
			})
		}

		if response.Confidence > 0 {
			confidenceSum += response.Confidence
			confidenceCount++
		}
	}

	report.Accuracy = float64(report.Correct) / float64(report.Total)
	if confidenceCount > 0 {
		report.MeanConfidence = confidenceSum / float64(confidenceCount)
	}

	logger.Info("Evaluation complete",
		zap.Int("total", report.Total),
		zap.Int("correct", report.Correct),
		zap.Float64("accuracy", report.Accuracy),
	)

	return report, nil
}
