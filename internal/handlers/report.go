package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/models"
	"github.com/stanstork/uxlens-api/internal/report"
)

// ReportService is implemented by *report.Manager.
type ReportService interface {
	Create(ctx context.Context, userID string, req report.CreateRequest) (models.Report, error)
	Regenerate(ctx context.Context, userID, reportID string) (models.Report, error)
	Download(ctx context.Context, userID, reportID string) (report.Download, error)
	BulkDelete(ctx context.Context, userID string, reportIDs []string) (int64, error)
	Get(ctx context.Context, userID, reportID string) (models.Report, error)
	List(ctx context.Context, userID, projectID string, limit, offset int) ([]models.Report, error)
}

type ReportHandler struct {
	service ReportService
	logger  zerolog.Logger
}

func NewReportHandler(service ReportService, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		service: service,
		logger:  logger.With().Str("handler", "report").Logger(),
	}
}

func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var payload struct {
		Name             string              `json:"name"`
		ReportType       models.ReportType   `json:"report_type"`
		Format           models.ReportFormat `json:"format"`
		IncludedAnalyses []string            `json:"included_analyses"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if !validIDs(payload.IncludedAnalyses) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "included_analyses must contain analysis ids"})
		return
	}

	rep, err := h.service.Create(r.Context(), uid, report.CreateRequest{
		ProjectID:        projectID,
		Name:             payload.Name,
		ReportType:       payload.ReportType,
		Format:           payload.Format,
		IncludedAnalyses: payload.IncludedAnalyses,
	})
	if err != nil {
		writeError(w, h.logger, err, "Failed to create report")
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	limit, offset := pagination(r)

	reports, err := h.service.List(r.Context(), uid, projectID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "reportID")
	if !ok {
		return
	}
	rep, err := h.service.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to get report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Download streams the artifact, or answers 202 with a status notice when
// there is nothing to serve.
func (h *ReportHandler) Download(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "reportID")
	if !ok {
		return
	}
	dl, err := h.service.Download(r.Context(), uid, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to download report")
		return
	}
	if dl.Notice != nil {
		status := http.StatusAccepted
		if dl.Notice.Expired {
			status = http.StatusGone
		}
		writeJSON(w, status, dl.Notice)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(dl.Content); err != nil {
		h.logger.Warn().Err(err).Str("report_id", id).Msg("failed to write report download")
	}
}

func (h *ReportHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "reportID")
	if !ok {
		return
	}
	rep, err := h.service.Regenerate(r.Context(), uid, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to regenerate report")
		return
	}
	writeJSON(w, http.StatusAccepted, rep)
}

func (h *ReportHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload struct {
		ReportIDs []string `json:"report_ids"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if len(payload.ReportIDs) == 0 || !validIDs(payload.ReportIDs) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "report_ids must be a non-empty list of report ids"})
		return
	}

	deleted, err := h.service.BulkDelete(r.Context(), uid, payload.ReportIDs)
	if err != nil {
		writeError(w, h.logger, err, "Failed to delete reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
