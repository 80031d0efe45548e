package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/config"
	"github.com/stanstork/uxlens-api/internal/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier copies notifications to the configured alert recipients.
type EmailNotifier struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	send       sendMailFunc
	logger     zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, fmt.Errorf("smtp_host is required for email notifier")
	}
	if from == "" {
		return nil, fmt.Errorf("from is required for email notifier")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	return &EmailNotifier{
		host:       host,
		port:       port,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		from:       from,
		recipients: sanitizeRecipients(cfg.AlertRecipients),
		send:       smtp.SendMail,
		logger:     logger.With().Str("notifier", "email").Logger(),
	}, nil
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if len(n.recipients) == 0 {
		return nil
	}

	title := strings.TrimSpace(notif.Title)
	if title == "" {
		title = "Notification"
	}
	subject := fmt.Sprintf("[UXLens] %s", title)

	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(notif.Message))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Type: %s\n", notif.Type))
	body.WriteString(fmt.Sprintf("User: %s\n", notif.UserID))
	body.WriteString(fmt.Sprintf("Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST")))
	if len(notif.Data) > 0 {
		body.WriteString(fmt.Sprintf("Data: %s\n", string(notif.Data)))
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		n.from, strings.Join(n.recipients, ","), subject)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.send(addr, auth, n.from, n.recipients, []byte(headers+body.String())); err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("type", notif.Type).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
