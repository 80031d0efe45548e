package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/uxlens-api/internal/apperr"
)

var notificationCols = []string{"id", "user_id", "type", "title", "message", "data", "is_read", "read_at", "created_at", "updated_at"}

func TestNotificationCreateMarshalsData(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO app.notifications")).
		WithArgs("u1", "report_ready", "Report ready", "done", []byte(`{"report_id":"r1"}`)).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow("n1", "u1", "report_ready", "Report ready", "done", []byte(`{"report_id":"r1"}`), false, nil, now, now))

	n, err := repo.Create(context.Background(), CreateNotificationParams{
		UserID: " u1 ", Type: "report_ready", Title: "Report ready", Message: "done",
		Data: map[string]interface{}{"report_id": "r1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID)
	assert.False(t, n.IsRead)
	assert.JSONEq(t, `{"report_id":"r1"}`, string(n.Data))
}

func TestNotificationMarkReadIsIdempotent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)
	readAt := time.Now().Add(-time.Hour)
	now := time.Now()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("read_at = COALESCE(read_at, NOW())")).
			WithArgs("n1", "u1").
			WillReturnRows(sqlmock.NewRows(notificationCols).
				AddRow("n1", "u1", "report_ready", "Report ready", "", nil, true, readAt, now, now))
	}

	first, err := repo.MarkRead(context.Background(), "u1", "n1")
	require.NoError(t, err)
	second, err := repo.MarkRead(context.Background(), "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, second.IsRead)
}

func TestNotificationMarkReadNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE app.notifications")).
		WithArgs("n1", "u2").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.MarkRead(context.Background(), "u2", "n1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNotificationBulkOperations(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND is_read = FALSE")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM app.notifications WHERE user_id = $1 AND is_read = TRUE")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.MarkAllRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.ClearRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestProjectGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProjectRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM app.projects")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "url", "status", "created_at", "updated_at"}).
			AddRow("p1", "u1", "Shop", "https://shop.example.com", "active", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM app.projects")).
		WithArgs("p2").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, p.IsActive())

	_, err = repo.Get(context.Background(), "p2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
