package notification

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/models"
)

// Notifier delivers a persisted notification over an extra channel.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

func sanitizeRecipients(recipients []string) []string {
	var cleaned []string
	for _, recipient := range recipients {
		if r := strings.TrimSpace(recipient); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return cleaned
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("type", notif.Type).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
