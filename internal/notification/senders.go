package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender records every notification in the application log.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("Notification",
		zap.String("user_id", n.UserID.String()),
		zap.String("kanban_id", n.KanbanID.String()),
		zap.String("message", n.Message))
	return nil
}

// UserPusher delivers a payload to a user's live connections and reports how many
// received it.
type UserPusher interface {
	SendToUser(userID uuid.UUID, payload []byte) int
}

// WebsocketSender pushes notifications to users connected to the in-app socket.
// Users without a live connection are skipped silently.
type WebsocketSender struct {
	pusher UserPusher
}

func NewWebsocketSender(pusher UserPusher) *WebsocketSender {
	return &WebsocketSender{pusher: pusher}
}

func (s *WebsocketSender) Name() string { return "websocket" }

// Event is the envelope written to the socket.
type Event struct {
	Event string       `json:"event"`
	Data  Notification `json:"data"`
}

func (s *WebsocketSender) Send(_ context.Context, n Notification) error {
	payload, err := json.Marshal(Event{Event: "kanban_notification", Data: n})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	s.pusher.SendToUser(n.UserID, payload)
	return nil
}
