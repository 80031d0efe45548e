package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/models"
	"github.com/stanstork/uxlens-api/internal/repository"
)

type Event struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Data    map[string]interface{}
}

type AnalysisCompleted struct {
	UserID       string
	AnalysisID   string
	ProjectID    string
	ProjectName  string
	AnalysisType models.AnalysisType
	Score        int
}

type ReportReady struct {
	UserID      string
	ReportID    string
	ReportName  string
	ProjectID   string
	ProjectName string
	Format      models.ReportFormat
}

// Service is the single write path for notifications. Callers are trusted to
// pass an existing user id.
type Service interface {
	CreateNotification(ctx context.Context, evt Event) (models.Notification, error)
	NotifyAnalysisCompleted(ctx context.Context, evt AnalysisCompleted) error
	NotifyReportReady(ctx context.Context, evt ReportReady) error
	ListRecent(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	ClearRead(ctx context.Context, userID string) (int64, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) CreateNotification(ctx context.Context, evt Event) (models.Notification, error) {
	userID := strings.TrimSpace(evt.UserID)
	if userID == "" {
		return models.Notification{}, apperr.Validation("user_id is required")
	}
	typ := strings.TrimSpace(evt.Type)
	if typ == "" {
		return models.Notification{}, apperr.Validation("type is required")
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = typ
	}

	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: strings.TrimSpace(evt.Message),
		Data:    evt.Data,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("type", typ).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyAnalysisCompleted(ctx context.Context, evt AnalysisCompleted) error {
	name := fallbackName(evt.ProjectName, evt.ProjectID)
	_, err := s.CreateNotification(ctx, Event{
		UserID:  evt.UserID,
		Type:    models.NotificationTypeAnalysisCompleted,
		Title:   "Analysis completed",
		Message: fmt.Sprintf("The %s analysis of %s finished with a score of %d.", evt.AnalysisType, name, evt.Score),
		Data: map[string]interface{}{
			"analysis_id":   evt.AnalysisID,
			"project_id":    evt.ProjectID,
			"project_name":  name,
			"analysis_type": evt.AnalysisType,
			"score":         evt.Score,
		},
	})
	return err
}

func (s *service) NotifyReportReady(ctx context.Context, evt ReportReady) error {
	name := fallbackName(evt.ReportName, evt.ReportID)
	_, err := s.CreateNotification(ctx, Event{
		UserID:  evt.UserID,
		Type:    models.NotificationTypeReportReady,
		Title:   "Report ready",
		Message: fmt.Sprintf("Report %q for %s is ready to download.", name, fallbackName(evt.ProjectName, evt.ProjectID)),
		Data: map[string]interface{}{
			"report_id":    evt.ReportID,
			"report_name":  name,
			"project_id":   evt.ProjectID,
			"project_name": evt.ProjectName,
			"format":       evt.Format,
		},
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, userID, limit, unreadOnly)
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, userID, notificationID)
}

func (s *service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *service) ClearRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.ClearRead(ctx, userID)
}

func fallbackName(name, fallback string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallback
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
