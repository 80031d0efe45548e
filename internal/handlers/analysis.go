package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/analysis"
	"github.com/stanstork/uxlens-api/internal/models"
)

// AnalysisService is implemented by *analysis.Manager.
type AnalysisService interface {
	Submit(ctx context.Context, userID string, req analysis.SubmitRequest) (models.Analysis, error)
	Start(ctx context.Context, userID, analysisID string) (models.Analysis, error)
	Stop(ctx context.Context, userID, analysisID string) error
	GetResults(ctx context.Context, userID, analysisID string) (models.AnalysisResults, error)
	Delete(ctx context.Context, userID, analysisID string) error
	Get(ctx context.Context, userID, analysisID string) (models.Analysis, error)
	List(ctx context.Context, userID, projectID string, limit, offset int) ([]models.Analysis, error)
}

type AnalysisHandler struct {
	service AnalysisService
	logger  zerolog.Logger
}

func NewAnalysisHandler(service AnalysisService, logger zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger.With().Str("handler", "analysis").Logger(),
	}
}

func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var payload struct {
		AnalysisType  models.AnalysisType `json:"analysis_type"`
		Configuration json.RawMessage     `json:"configuration"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	a, err := h.service.Submit(r.Context(), uid, analysis.SubmitRequest{
		ProjectID:     projectID,
		AnalysisType:  payload.AnalysisType,
		Configuration: payload.Configuration,
	})
	if err != nil {
		writeError(w, h.logger, err, "Failed to submit analysis")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	limit, offset := pagination(r)

	analyses, err := h.service.List(r.Context(), uid, projectID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list analyses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analyses": analyses})
}

func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "analysisID")
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to get analysis")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AnalysisHandler) Start(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "analysisID")
	if !ok {
		return
	}
	a, err := h.service.Start(r.Context(), uid, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to start analysis")
		return
	}
	writeJSON(w, http.StatusAccepted, a)
}

func (h *AnalysisHandler) Stop(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "analysisID")
	if !ok {
		return
	}
	if err := h.service.Stop(r.Context(), uid, id); err != nil {
		writeError(w, h.logger, err, "Failed to stop analysis")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Results answers 409 with the current status until the analysis completes.
func (h *AnalysisHandler) Results(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "analysisID")
	if !ok {
		return
	}
	res, err := h.service.GetResults(r.Context(), uid, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to get analysis results")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AnalysisHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "analysisID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), uid, id); err != nil {
		writeError(w, h.logger, err, "Failed to delete analysis")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
