package handlers

import (
	"net/http"

	"github.com/stanstork/uxlens-api/internal/authz"
)

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Missing user context", http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}
