package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"ninochat/pkg/database"
)

// ConversationLogHandler is a slog.Handler that writes records to the
// chat_logs table, so the full diagnostic trail of a conversation survives
// regardless of what the user saw.
type ConversationLogHandler struct {
	DB             *database.PostgresDB
	ConversationID uuid.UUID
}

func NewConversationLogHandler(db *database.PostgresDB, conversationID uuid.UUID) *ConversationLogHandler {
	return &ConversationLogHandler{
		DB:             db,
		ConversationID: conversationID,
	}
}

func (h *ConversationLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *ConversationLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO chat_logs (conversation_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Background context so records persist even when the request context
	// is already cancelled.
	_, err = h.DB.Pool.Exec(context.Background(), query, h.ConversationID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

func (h *ConversationLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attribute chaining is not needed for this sink; records carry their
	// own attrs already.
	return h
}

func (h *ConversationLogHandler) WithGroup(name string) slog.Handler {
	return h
}
