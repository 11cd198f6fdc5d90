package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/chat"
	"github.com/ehr-chatbot/backend/internal/storage/models"
	"github.com/ehr-chatbot/backend/internal/storage/sqlite"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

type ChatHandler struct {
	service *chat.Service
	history *sqlite.Client
}

func NewChatHandler(service *chat.Service, history *sqlite.Client) *ChatHandler {
	return &ChatHandler{
		service: service,
		history: history,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Query       string `json:"query"`
		ConditionID string `json:"condition_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}
	if req.ConditionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "condition_id is required",
		})
	}

	turn := h.service.HandleQuery(c.Context(), req.Query, req.ConditionID)

	return c.JSON(turn)
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	conditionID := c.Query("condition_id")
	if conditionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "condition_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)

	records, err := h.history.GetRecentByCondition(conditionID, limit)
	if err != nil {
		logger.Error("Failed to load chat history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}

func (h *ChatHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		ChatID  string `json:"chat_id"`
		Helpful bool   `json:"helpful"`
		Comment string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ChatID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "chat_id is required",
		})
	}

	err := h.history.InsertFeedback(&models.Feedback{
		ChatID:    req.ChatID,
		Helpful:   req.Helpful,
		Comment:   req.Comment,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Error("Failed to store feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Feedback recorded",
	})
}
