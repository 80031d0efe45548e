package authz

import (
	"context"
	"net/http"

	"github.com/stanstork/uxlens-api/internal/models"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userRoleKey contextKey = "user_role"
)

// WithIdentity stores the authenticated user and role on the context.
func WithIdentity(ctx context.Context, userID string, role models.UserRole) context.Context {
	if userID != "" {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	if !models.IsValidRole(role) {
		role = models.RoleUser
	}
	return context.WithValue(ctx, userRoleKey, role)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	if !ok || uid == "" {
		return "", false
	}
	return uid, true
}

func UserIDFromRequest(r *http.Request) (string, bool) {
	return UserIDFromContext(r.Context())
}

func RoleFromRequest(r *http.Request) (models.UserRole, bool) {
	role, ok := r.Context().Value(userRoleKey).(models.UserRole)
	if !ok || !models.IsValidRole(role) {
		return "", false
	}
	return role, true
}
