package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleNotifySendTask processes TaskNotifySend tasks. Delivery is currently
// log-based; the payload shape is what an SMTP or chat-webhook sender needs.
func HandleNotifySendTask(ctx context.Context, t *asynq.Task) error {
	var payload NotifySendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	slog.Default().Info("operator notification",
		slog.String("subject", payload.Subject),
		slog.String("body", payload.Body))
	return nil
}
