// Package handler exposes the query/access REST surface. Handlers delegate to
// the query service and orchestrator without embedding business logic so
// transport concerns stay isolated.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"certvault/internal/certificate"
	"certvault/internal/objectstore"
	"certvault/internal/platform/middleware"
	"certvault/internal/token"
	domainerrors "certvault/pkg/domain-errors"
	"certvault/pkg/platform/sentinel"
)

//go:generate mockgen -source=handler.go -destination=mocks/service_mocks.go -package=mocks

// Service is the read surface the handler needs.
type Service interface {
	Search(ctx context.Context, filters certificate.SearchFilters) ([]*certificate.CertificateRecord, int, error)
	Get(ctx context.Context, id uuid.UUID) (*certificate.CertificateRecord, error)
	Download(ctx context.Context, id uuid.UUID) (*token.Grant, error)
	Log(ctx context.Context, id uuid.UUID) ([]certificate.ProcessingLogEntry, error)
}

// Reprocessor re-runs extraction for failed records.
type Reprocessor interface {
	Reprocess(ctx context.Context, id uuid.UUID) error
}

// Redeemer validates presented download tokens.
type Redeemer interface {
	Redeem(ctx context.Context, tokenString string) (*token.Claims, error)
}

// Handler handles certificate read and download endpoints.
type Handler struct {
	service     Service
	reprocessor Reprocessor
	redeemer    Redeemer
	objects     objectstore.Store
	logger      *slog.Logger
}

// New creates a query Handler. Redeemer and objects may be nil when the
// storage backend signs its own download URLs.
func New(service Service, reprocessor Reprocessor, redeemer Redeemer, objects objectstore.Store, logger *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		reprocessor: reprocessor,
		redeemer:    redeemer,
		objects:     objects,
		logger:      logger,
	}
}

// Register mounts the routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/certificates", h.handleSearch)
	r.Get("/certificates/{id}", h.handleGet)
	r.Get("/certificates/{id}/download", h.handleDownload)
	r.Get("/certificates/{id}/log", h.handleLog)
	r.Post("/certificates/{id}/reprocess", h.handleReprocess)
	if h.redeemer != nil && h.objects != nil {
		r.Get("/downloads/{token}", h.handleRedeem)
	}
}

type certificateResponse struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	StudentName        string     `json:"studentName,omitempty"`
	StudentID          string     `json:"studentId,omitempty"`
	DateOfBirth        string     `json:"dateOfBirth,omitempty"`
	CertificateType    string     `json:"certificateType,omitempty"`
	DegreeProgram      string     `json:"degreeProgram,omitempty"`
	GPA                *float64   `json:"gpa,omitempty"`
	IssuingInstitution string     `json:"issuingInstitution,omitempty"`
	GraduationDate     *time.Time `json:"graduationDate,omitempty"`
	TranscriptNumber   string     `json:"transcriptNumber,omitempty"`
	ConfidenceScore    *float64   `json:"confidenceScore,omitempty"`
	AttemptCount       int        `json:"attemptCount"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toResponse(record *certificate.CertificateRecord) certificateResponse {
	return certificateResponse{
		ID:                 record.ID.String(),
		Status:             string(record.Status),
		StudentName:        record.Fields.StudentName,
		StudentID:          record.Fields.StudentID,
		DateOfBirth:        record.Fields.DateOfBirth,
		CertificateType:    record.Fields.CertificateType,
		DegreeProgram:      record.Fields.DegreeProgram,
		GPA:                record.Fields.GPA,
		IssuingInstitution: record.Fields.IssuingInstitution,
		GraduationDate:     record.Fields.GraduationDate,
		TranscriptNumber:   record.Fields.TranscriptNumber,
		ConfidenceScore:    record.Fields.ConfidenceScore,
		AttemptCount:       record.AttemptCount,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	filters := certificate.SearchFilters{
		StudentID:       r.URL.Query().Get("studentId"),
		StudentName:     r.URL.Query().Get("studentName"),
		CertificateType: r.URL.Query().Get("certificateType"),
	}
	var err error
	if filters.GraduationYear, err = intParam(r, "graduationYear"); err != nil {
		writeError(w, err)
		return
	}
	if filters.Page, err = intParam(r, "page"); err != nil {
		writeError(w, err)
		return
	}
	if filters.PageSize, err = intParam(r, "pageSize"); err != nil {
		writeError(w, err)
		return
	}

	records, total, err := h.service.Search(r.Context(), filters)
	if err != nil {
		h.logError(r, "search certificates", err)
		writeError(w, err)
		return
	}

	responses := make([]certificateResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":    responses,
		"totalCount": total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.logError(r, "get certificate", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(record))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	grant, err := h.service.Download(r.Context(), id)
	if err != nil {
		h.logError(r, "issue download token", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"downloadUrl": grant.DownloadURL,
		"expiresAt":   grant.ExpiresAt,
	})
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.service.Log(r.Context(), id)
	if err != nil {
		h.logError(r, "list processing log", err)
		writeError(w, err)
		return
	}

	type logResponse struct {
		Timestamp time.Time `json:"timestamp"`
		Message   string    `json:"message"`
		Outcome   string    `json:"outcome"`
	}
	responses := make([]logResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, logResponse{
			Timestamp: entry.Timestamp,
			Message:   entry.Message,
			Outcome:   string(entry.Outcome),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": responses})
}

func (h *Handler) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.reprocessor.Reprocess(r.Context(), id); err != nil {
		h.logError(r, "reprocess certificate", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRedeem serves the original document for a valid token. This is the
// built-in counterpart of a storage backend's signed URL.
func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	claims, err := h.redeemer.Redeem(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.logError(r, "redeem download token", err)
		writeError(w, err)
		return
	}
	document, err := h.objects.Get(r.Context(), claims.Locator)
	if err != nil {
		h.logError(r, "fetch document for download", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(document)))
	_, _ = w.Write(document)
}

func (h *Handler) logError(r *http.Request, action string, err error) {
	h.logger.WarnContext(r.Context(), action+" failed",
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err.Error(),
	)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domainerrors.New(domainerrors.CodeBadRequest, "invalid certificate id")
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, domainerrors.New(domainerrors.CodeBadRequest, name+" must be a positive integer")
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain and sentinel error translation so endpoints
// never leak internal failure detail.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := string(domainerrors.CodeInternal)

	var de *domainerrors.Error
	switch {
	case errors.As(err, &de):
		status = domainerrors.ToHTTPStatus(de.Code)
		code = string(de.Code)
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
		code = string(domainerrors.CodeNotFound)
	case errors.Is(err, sentinel.ErrNotReady):
		status = http.StatusConflict
		code = string(domainerrors.CodeNotReady)
	case errors.Is(err, sentinel.ErrInvalidState), errors.Is(err, sentinel.ErrConflict):
		status = http.StatusConflict
		code = string(domainerrors.CodeConflict)
	case errors.Is(err, sentinel.ErrExpired):
		status = http.StatusForbidden
		code = "token_rejected"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
