package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/chat"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

// WebSocketHandler serves the interactive chat UI: one message in, one
// routed response out, on a long-lived connection.
type WebSocketHandler struct {
	service *chat.Service
}

func NewWebSocketHandler(service *chat.Service) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type        string `json:"type"`
			Query       string `json:"query"`
			ConditionID string `json:"condition_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		if msg.Query == "" || msg.ConditionID == "" {
			h.sendError(c, "query and condition_id are required")
			continue
		}

		h.sendStatus(c, "processing")

		turn := h.service.HandleQuery(context.Background(), msg.Query, msg.ConditionID)

		if err := h.sendTurn(c, turn); err != nil {
			logger.Error("Failed to send WebSocket response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, status string) {
	c.WriteJSON(map[string]interface{}{
		"type":   "status",
		"status": status,
	})
}

func (h *WebSocketHandler) sendTurn(c *websocket.Conn, turn *chat.Turn) error {
	return c.WriteJSON(map[string]interface{}{
		"type":       "response",
		"turn_id":    turn.ID,
		"response":   turn.Response,
		"latency_ms": turn.LatencyMS,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
