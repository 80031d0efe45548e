package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/apperr"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type errorBody struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps application error kinds to their HTTP status. Anything else
// is logged and answered with a generic 500.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg(fallback)
		writeJSON(w, status, errorBody{Error: fallback})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Status: apperr.StatusOf(err)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request payload"})
		return false
	}
	return true
}

// pathID returns the named route variable if it is a valid UUID.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := strings.TrimSpace(mux.Vars(r)[name])
	if _, err := uuid.Parse(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid " + name})
		return "", false
	}
	return raw, true
}

func validIDs(ids []string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
			return false
		}
	}
	return true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
