package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/model"
	pushsvc "github.com/aliskhannn/pixmix-relay/internal/notification"
)

// notifier delivers a push for a decoded notification request.
type notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Handler handles Kafka messages carrying queued notification requests.
type Handler struct {
	notifier notifier
}

// NewHandler creates a new handler with the given notifier.
func NewHandler(n notifier) *Handler {
	return &Handler{notifier: n}
}

// Handle decodes msg and delivers it. Requests that can never succeed
// (malformed payload, unknown user) are logged and acknowledged.
// Delivery errors come back after the notifier's own retries; the consumer
// logs them and does not redeliver.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var n model.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		zlog.Logger.Err(err).Str("key", string(msg.Key)).Msg("dropping malformed notification message")
		return nil
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		if errors.Is(err, pushsvc.ErrNoTokenForUser) {
			zlog.Logger.Warn().
				Str("request_id", n.RequestID).
				Str("user_id", n.UserID).
				Msg("no device registered, dropping notification")
			return nil
		}

		return fmt.Errorf("deliver notification: %w", err)
	}

	return nil
}
