package authz

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/stanstork/uxlens-api/internal/models"
)

// Authenticator verifies HS256 bearer tokens. The "sub" claim is the user id;
// "role" is optional and defaults to user.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !claims.VerifyExpiresAt(time.Now().Unix(), false) {
			http.Error(w, "Token expired", http.StatusUnauthorized)
			return
		}

		userID, _ := claims["sub"].(string)
		if strings.TrimSpace(userID) == "" {
			http.Error(w, "Missing token subject", http.StatusUnauthorized)
			return
		}
		role := models.RoleUser
		if raw, ok := claims["role"].(string); ok && raw != "" {
			role = models.UserRole(raw)
			if !models.IsValidRole(role) {
				http.Error(w, "Invalid role claim", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, role)))
	})
}

// RequireRole returns a middleware that ensures the requester has at least the required role.
func RequireRole(required models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromRequest(r)
			if !ok || !models.HasAtLeast(role, required) {
				http.Error(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleHandler applies the role middleware inline when registering routes.
func RequireRoleHandler(required models.UserRole, next http.Handler) http.Handler {
	return RequireRole(required)(next)
}
