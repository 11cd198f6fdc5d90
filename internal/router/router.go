// Package router maps retrieval output to exactly one of five response
// variants. The decision is an ordered list evaluated top to bottom; the
// first matching transition wins. Routing is pure and stateless across
// calls: conversation memory, if any, is layered on top by the caller.
package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/retriever"
	"github.com/ehr-chatbot/backend/pkg/config"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

// alternativeCount bounds how many candidate questions a clarification
// carries besides the best match.
const alternativeCount = 2

type Router struct {
	retriever      *retriever.Retriever
	topK           int
	detectMismatch bool
}

func New(r *retriever.Retriever, cfg config.SearchConfig) *Router {
	return &Router{
		retriever:      r,
		topK:           cfg.DefaultTopK,
		detectMismatch: cfg.DetectMismatch,
	}
}

// Route handles one user query scoped to the selected condition and returns
// exactly one response variant. Retrieval failures are degraded to a
// well-typed llm_fallback instead of propagating to the presentation layer.
func (ro *Router) Route(ctx context.Context, query, conditionID string) *Response {
	results, err := ro.retriever.SearchWithinCondition(ctx, query, conditionID, ro.topK)
	if err != nil {
		logger.Error("Retrieval failed, degrading to fallback",
			zap.Error(err),
			zap.String("condition_id", conditionID),
		)
		return newLLMFallback(query, conditionID, nil)
	}

	if len(results) == 0 {
		return newNoResults()
	}

	best := results[0]

	if ro.detectMismatch && best.Confidence == retriever.ConfidenceLow {
		verdict, err := ro.retriever.DetectMismatch(ctx, query, conditionID)
		if err != nil {
			logger.Warn("Mismatch detection failed", zap.Error(err))
		} else if verdict.IsMismatch {
			return newConditionMismatch(verdict, best.Metadata.ConditionName)
		}
	}

	switch best.Confidence {
	case retriever.ConfidenceHigh:
		return newDirectAnswer(best)
	case retriever.ConfidenceMedium:
		alternatives := results[1:]
		if len(alternatives) > alternativeCount {
			alternatives = alternatives[:alternativeCount]
		}
		return newClarification(best, alternatives)
	default:
		return newLLMFallback(query, conditionID, &best)
	}
}
