package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/evaluation"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

// WebSocketHandler streams gold/model comparisons. Each side is sent as soon
// as its query finishes.
type WebSocketHandler struct {
	workflow *evaluation.Workflow
}

func NewWebSocketHandler(workflow *evaluation.Workflow) *WebSocketHandler {
	return &WebSocketHandler{
		workflow: workflow,
	}
}

type compareMessage struct {
	Type       string `json:"type"`
	QuestionID string `json:"question_id"`
	Model      string `json:"model"`
}

// pendingMessages bounds the compare requests queued while one is running.
const pendingMessages = 4

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	messages, ctx, cancel := readMessages(context.Background(), c.ReadJSON)
	defer cancel()

	for msg := range messages {
		logger.Info("Processing comparison",
			zap.String("question_id", msg.QuestionID),
			zap.String("model", msg.Model),
		)

		if err := h.streamComparison(ctx, c, msg); err != nil {
			logger.Error("Failed to stream comparison", zap.Error(err))
			return
		}
	}
}

// readMessages keeps reading compare requests while earlier ones run, so a
// closed connection is noticed mid-comparison. When read fails the returned
// context is cancelled and the channel closed.
func readMessages(parent context.Context, read func(v any) error) (<-chan compareMessage, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	out := make(chan compareMessage, pendingMessages)

	go func() {
		defer close(out)
		defer cancel()

		for {
			var msg compareMessage
			if err := read(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("Failed to read WebSocket message", zap.Error(err))
				}
				return
			}
			if msg.Type != "compare" {
				continue
			}

			select {
			case out <- msg:
			default:
				logger.Warn("Dropping comparison request, too many pending",
					zap.String("question_id", msg.QuestionID),
					zap.String("model", msg.Model),
				)
			}
		}
	}()

	return out, ctx, cancel
}

func (h *WebSocketHandler) streamComparison(ctx context.Context, c *websocket.Conn, msg compareMessage) error {
	q, sub, err := h.workflow.Pair(msg.QuestionID, msg.Model)
	if err != nil {
		return h.sendError(c, err.Error())
	}

	if err := h.send(c, map[string]any{
		"type":     "status",
		"content":  "Executing queries...",
		"database": h.workflow.Database(),
	}); err != nil {
		return err
	}

	var writeErr error
	h.workflow.RunPair(ctx, q.GoldSQL, sub.SQL, func(o evaluation.Outcome) {
		if writeErr != nil {
			return
		}
		writeErr = h.send(c, map[string]any{
			"type":    "result",
			"outcome": o,
		})
	})
	if writeErr != nil {
		return writeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return h.send(c, map[string]any{
		"type":        "complete",
		"question_id": msg.QuestionID,
		"model":       msg.Model,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg map[string]any) error {
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	})
}
