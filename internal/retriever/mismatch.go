package retriever

import (
	"context"

	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/pkg/logger"
)

// MismatchVerdict says whether a query scoped to one condition is better
// answered by content under a different condition. Produced per query, only
// consulted when the in-scope best match is weak.
type MismatchVerdict struct {
	IsMismatch            bool    `json:"is_mismatch"`
	CurrentConditionID    string  `json:"current_condition_id,omitempty"`
	DetectedConditionID   string  `json:"detected_condition_id,omitempty"`
	DetectedConditionName string  `json:"detected_condition_name,omitempty"`
	Similarity            float64 `json:"similarity,omitempty"`
	SimilarityDiff        float64 `json:"similarity_diff,omitempty"`
}

// DetectMismatch compares the best in-scope match against the best global
// match. It always issues both index queries so the two pieces of evidence
// stay independently comparable; an unfiltered top-1 can tie with or lose to
// the in-scope top-1 for reasons unrelated to relevance.
func (r *Retriever) DetectMismatch(ctx context.Context, query, currentConditionID string) (MismatchVerdict, error) {
	currentResults, err := r.SearchWithinCondition(ctx, query, currentConditionID, 1)
	if err != nil {
		return MismatchVerdict{}, err
	}

	allResults, err := r.SearchAllConditions(ctx, query, 1)
	if err != nil {
		return MismatchVerdict{}, err
	}

	// Never flag on empty evidence.
	if len(currentResults) == 0 || len(allResults) == 0 {
		return MismatchVerdict{}, nil
	}

	currentBest := currentResults[0]
	globalBest := allResults[0]

	if globalBest.Metadata.ConditionID == currentConditionID {
		return MismatchVerdict{}, nil
	}

	diff := globalBest.Similarity - currentBest.Similarity
	if diff < r.diffThreshold {
		return MismatchVerdict{}, nil
	}

	logger.Info("Condition mismatch detected",
		zap.String("current_condition_id", currentConditionID),
		zap.String("detected_condition_id", globalBest.Metadata.ConditionID),
		zap.Float64("similarity_diff", diff),
	)

	return MismatchVerdict{
		IsMismatch:            true,
		CurrentConditionID:    currentConditionID,
		DetectedConditionID:   globalBest.Metadata.ConditionID,
		DetectedConditionName: globalBest.Metadata.ConditionName,
		Similarity:            globalBest.Similarity,
		SimilarityDiff:        diff,
	}, nil
}
