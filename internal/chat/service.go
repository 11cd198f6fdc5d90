// Package chat wraps the response router with the operational concerns of a
// served chatbot: turn ids, latency accounting, metrics, and the history
// log. The routing decision itself stays pure inside internal/router.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/metrics"
	"github.com/ehr-chatbot/backend/internal/router"
	"github.com/ehr-chatbot/backend/internal/storage/models"
	"github.com/ehr-chatbot/backend/internal/storage/sqlite"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

type Service struct {
	router  *router.Router
	history *sqlite.Client
}

// Turn is one completed chat exchange.
type Turn struct {
	ID          string           `json:"id"`
	Query       string           `json:"query"`
	ConditionID string           `json:"condition_id"`
	Response    *router.Response `json:"response"`
	LatencyMS   int              `json:"latency_ms"`
}

// NewService builds the chat service. history may be nil to disable the
// persistent log.
func NewService(r *router.Router, history *sqlite.Client) *Service {
	return &Service{
		router:  r,
		history: history,
	}
}

// HandleQuery routes one user query and records the outcome.
func (s *Service) HandleQuery(ctx context.Context, query, conditionID string) *Turn {
	start := time.Now()
	turnID := uuid.New().String()

	logger.Info("Processing chat query",
		zap.String("turn_id", turnID),
		zap.String("condition_id", conditionID),
	)

	response := s.router.Route(ctx, query, conditionID)

	latency := int(time.Since(start).Milliseconds())

	metrics.ChatTotal.WithLabelValues(string(response.Type)).Inc()
	metrics.ChatDuration.WithLabelValues(string(response.Type)).Observe(time.Since(start).Seconds())
	if response.Confidence > 0 {
		metrics.SimilarityScore.Observe(response.Confidence)
	}
	if response.Type == router.TypeConditionMismatch {
		metrics.MismatchDetections.Inc()
	}

	if s.history != nil {
		record := &models.ChatRecord{
			ID:           turnID,
			ConditionID:  conditionID,
			QueryText:    query,
			ResponseType: string(response.Type),
			Confidence:   response.Confidence,
			Mismatch:     response.Type == router.TypeConditionMismatch,
			LatencyMS:    latency,
			CreatedAt:    time.Now(),
		}
		if err := s.history.InsertChatRecord(record); err != nil {
			logger.Warn("Failed to record chat turn", zap.Error(err))
		}
	}

	logger.Info("Chat query routed",
		zap.String("turn_id", turnID),
		zap.String("response_type", string(response.Type)),
		zap.Float64("confidence", response.Confidence),
		zap.Int("latency_ms", latency),
	)

	return &Turn{
		ID:          turnID,
		Query:       query,
		ConditionID: conditionID,
		Response:    response,
		LatencyMS:   latency,
	}
}
