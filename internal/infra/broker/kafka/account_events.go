package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"

	appchat "swapyard/internal/app/chat"
)

// AccountEventHandler reacts to account lifecycle events published by the
// identity surface. A deleted account triggers the full data cascade: the
// user's listings, media, conversation memberships and sessions go away.
type AccountEventHandler struct {
	Cascader *appchat.Cascader
	Logger   *slog.Logger
}

type cloudEventEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type accountDeletedPayload struct {
	UserID string `json:"user_id"`
}

func (h *AccountEventHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env cloudEventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.log().Warn("dropping undecodable account event",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if !strings.HasPrefix(env.Type, "account.deleted") {
		return nil
	}
	var payload accountDeletedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" {
		h.log().Warn("account.deleted event missing user id", "event_id", env.ID)
		return nil
	}
	if err := h.Cascader.CleanupAccount(ctx, payload.UserID); err != nil {
		h.log().Error("account cleanup incomplete, message will be retried",
			"user_id", payload.UserID, "error", err)
		return err
	}
	h.log().Info("account cleanup finished", "user_id", payload.UserID, "event_id", env.ID)
	return nil
}

func (h *AccountEventHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var _ MessageHandler = (*AccountEventHandler)(nil)
