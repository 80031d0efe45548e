package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	ClearRead(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Data    map[string]interface{}
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

const notificationColumns = `id, user_id, type, title, message, data, is_read, read_at, created_at, updated_at`

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	query := `
		INSERT INTO app.notifications (user_id, type, title, message, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + notificationColumns

	var data interface{}
	if len(params.Data) > 0 {
		bytes, err := json.Marshal(params.Data)
		if err != nil {
			return models.Notification{}, fmt.Errorf("marshal data: %w", err)
		}
		data = bytes
	}

	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(params.UserID), params.Type, params.Title, params.Message, data)
	return scanNotification(row)
}

func (r *notificationRepository) ListRecent(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM app.notifications
		WHERE user_id = $1 AND ($3 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(userID), clampLimit(limit), unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead is idempotent: an already-read row keeps its original read_at.
func (r *notificationRepository) MarkRead(ctx context.Context, userID, notificationID string) (models.Notification, error) {
	query := `
		UPDATE app.notifications
		SET is_read = TRUE,
		    read_at = COALESCE(read_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + notificationColumns
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(notificationID), strings.TrimSpace(userID))
	notif, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notif, apperr.NotFound("notification not found")
	}
	return notif, err
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	const query = `
		UPDATE app.notifications
		SET is_read = TRUE, read_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND is_read = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(userID))
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (r *notificationRepository) ClearRead(ctx context.Context, userID string) (int64, error) {
	const query = `DELETE FROM app.notifications WHERE user_id = $1 AND is_read = TRUE`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(userID))
	if err != nil {
		return 0, fmt.Errorf("clear read notifications: %w", err)
	}
	return res.RowsAffected()
}

func scanNotification(s scanner) (models.Notification, error) {
	var (
		notif   models.Notification
		dataRaw []byte
		readAt  sql.NullTime
	)

	if err := s.Scan(
		&notif.ID,
		&notif.UserID,
		&notif.Type,
		&notif.Title,
		&notif.Message,
		&dataRaw,
		&notif.IsRead,
		&readAt,
		&notif.CreatedAt,
		&notif.UpdatedAt,
	); err != nil {
		return models.Notification{}, err
	}

	if len(dataRaw) > 0 {
		notif.Data = dataRaw
	}
	notif.ReadAt = timePtr(readAt)
	return notif, nil
}
