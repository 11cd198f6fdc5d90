package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/retriever"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

type StatsHandler struct {
	retriever *retriever.Retriever
}

func NewStatsHandler(r *retriever.Retriever) *StatsHandler {
	return &StatsHandler{retriever: r}
}

func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.retriever.Stats(c.Context())
	if err != nil {
		logger.Error("Failed to load engine stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}

	return c.JSON(stats)
}
