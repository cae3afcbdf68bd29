package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"certvault/internal/certificate"
	"certvault/internal/query/handler/mocks"
	"certvault/internal/token"
	domainerrors "certvault/pkg/domain-errors"
	"certvault/pkg/platform/sentinel"
	"certvault/pkg/testutil"
)

type testObjects map[string][]byte

func (o testObjects) Get(_ context.Context, locator string) ([]byte, error) {
	data, ok := o[locator]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", locator, sentinel.ErrNotFound)
	}
	return data, nil
}

type harness struct {
	service     *mocks.MockService
	reprocessor *mocks.MockReprocessor
	redeemer    *mocks.MockRedeemer
	objects     testObjects
	router      chi.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		service:     mocks.NewMockService(ctrl),
		reprocessor: mocks.NewMockReprocessor(ctrl),
		redeemer:    mocks.NewMockRedeemer(ctrl),
		objects:     testObjects{},
	}
	h.router = chi.NewRouter()
	New(h.service, h.reprocessor, h.redeemer, h.objects, slog.New(slog.DiscardHandler)).Register(h.router)
	return h
}

func (h *harness) do(method, target string) *httptest.ResponseRecorder {
	return testutil.DoRequest(h.router, httptest.NewRequest(method, target, nil))
}

func sampleRecord() *certificate.CertificateRecord {
	confidence := 0.91
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return &certificate.CertificateRecord{
		ID:             uuid.New(),
		IdempotencyKey: "abc",
		Status:         certificate.StatusExtracted,
		Fields: certificate.ExtractedFields{
			StudentName:        "Alice Jones",
			StudentID:          "S12345",
			CertificateType:    "Bachelor Degree",
			IssuingInstitution: "Test University",
			ConfidenceScore:    &confidence,
		},
		DocumentLocator: "/c/2024/001.pdf#v1",
		AttemptCount:    1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestHandleSearch_OK(t *testing.T) {
	h := newHarness(t)
	record := sampleRecord()
	h.service.EXPECT().
		Search(gomock.Any(), certificate.SearchFilters{StudentID: "S12345", Page: 2, PageSize: 10}).
		Return([]*certificate.CertificateRecord{record}, 1, nil)

	rec := h.do(http.MethodGet, "/certificates?studentId=S12345&page=2&pageSize=10")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []struct {
			ID              string   `json:"id"`
			Status          string   `json:"status"`
			StudentName     string   `json:"studentName"`
			ConfidenceScore *float64 `json:"confidenceScore"`
		} `json:"records"`
		TotalCount int `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.TotalCount)
	require.Len(t, body.Records, 1)
	assert.Equal(t, record.ID.String(), body.Records[0].ID)
	assert.Equal(t, "EXTRACTED", body.Records[0].Status)
	assert.Equal(t, "Alice Jones", body.Records[0].StudentName)
	require.NotNil(t, body.Records[0].ConfidenceScore)
}

func TestHandleSearch_NeverExposesLocator(t *testing.T) {
	h := newHarness(t)
	h.service.EXPECT().
		Search(gomock.Any(), gomock.Any()).
		Return([]*certificate.CertificateRecord{sampleRecord()}, 1, nil)

	rec := h.do(http.MethodGet, "/certificates")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "001.pdf")
}

func TestHandleSearch_RejectsBadPageParam(t *testing.T) {
	for _, target := range []string{
		"/certificates?page=0",
		"/certificates?page=-1",
		"/certificates?pageSize=abc",
		"/certificates?graduationYear=maybe",
	} {
		t.Run(target, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleGet_OK(t *testing.T) {
	h := newHarness(t)
	record := sampleRecord()
	h.service.EXPECT().Get(gomock.Any(), record.ID).Return(record, nil)

	rec := h.do(http.MethodGet, "/certificates/"+record.ID.String())

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, record.ID.String(), body["id"])
	assert.Equal(t, "EXTRACTED", body["status"])
}

func TestHandleGet_NotFound(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.service.EXPECT().Get(gomock.Any(), id).Return(nil, sentinel.ErrNotFound)

	rec := h.do(http.MethodGet, "/certificates/"+id.String())

	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")
}

func TestHandleGet_InvalidID(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/certificates/not-a-uuid")

	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")
}

func TestHandleDownload_OK(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	expires := time.Date(2026, 2, 10, 9, 10, 0, 0, time.UTC)
	h.service.EXPECT().Download(gomock.Any(), id).Return(&token.Grant{
		Token:       "signed-token",
		DownloadURL: "http://localhost:8080/downloads/signed-token",
		ExpiresAt:   expires,
	}, nil)

	rec := h.do(http.MethodGet, "/certificates/"+id.String()+"/download")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		DownloadURL string    `json:"downloadUrl"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "http://localhost:8080/downloads/signed-token", body.DownloadURL)
	assert.True(t, expires.Equal(body.ExpiresAt))
}

func TestHandleDownload_NotReadyConflicts(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.service.EXPECT().Download(gomock.Any(), id).
		Return(nil, fmt.Errorf("certificate %s is PROCESSING: %w", id, sentinel.ErrNotReady))

	rec := h.do(http.MethodGet, "/certificates/"+id.String()+"/download")

	testutil.AssertStatusAndError(t, rec, http.StatusConflict, "not_ready")
}

func TestHandleDownload_NotFound(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.service.EXPECT().Download(gomock.Any(), id).Return(nil, sentinel.ErrNotFound)

	rec := h.do(http.MethodGet, "/certificates/"+id.String()+"/download")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLog_OK(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.service.EXPECT().Log(gomock.Any(), id).Return([]certificate.ProcessingLogEntry{
		{Timestamp: time.Now(), Message: "attempt 1 failed: timeout", Outcome: certificate.OutcomeTransientError},
		{Timestamp: time.Now(), Message: "extraction succeeded on attempt 2", Outcome: certificate.OutcomeSuccess},
	}, nil)

	rec := h.do(http.MethodGet, "/certificates/"+id.String()+"/log")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []struct {
			Outcome string `json:"outcome"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "TRANSIENT_ERROR", body.Entries[0].Outcome)
	assert.Equal(t, "SUCCESS", body.Entries[1].Outcome)
}

func TestHandleReprocess_Accepted(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.reprocessor.EXPECT().Reprocess(gomock.Any(), id).Return(nil)

	rec := h.do(http.MethodPost, "/certificates/"+id.String()+"/reprocess")

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleReprocess_InvalidStateConflicts(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.reprocessor.EXPECT().Reprocess(gomock.Any(), id).
		Return(fmt.Errorf("certificate %s is EXTRACTED: %w", id, sentinel.ErrInvalidState))

	rec := h.do(http.MethodPost, "/certificates/"+id.String()+"/reprocess")

	testutil.AssertStatusAndError(t, rec, http.StatusConflict, "conflict")
}

func TestHandleRedeem_StreamsDocument(t *testing.T) {
	h := newHarness(t)
	h.objects["/c/2024/001.pdf#v1"] = []byte("pdf bytes")
	h.redeemer.EXPECT().Redeem(gomock.Any(), "good-token").
		Return(&token.Claims{Locator: "/c/2024/001.pdf#v1"}, nil)

	rec := h.do(http.MethodGet, "/downloads/good-token")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pdf bytes", rec.Body.String())
}

func TestHandleRedeem_RejectsExpiredToken(t *testing.T) {
	h := newHarness(t)
	h.redeemer.EXPECT().Redeem(gomock.Any(), "stale-token").
		Return(nil, fmt.Errorf("download token expired: %w", sentinel.ErrExpired))

	rec := h.do(http.MethodGet, "/downloads/stale-token")

	testutil.AssertStatusAndError(t, rec, http.StatusForbidden, "token_rejected")
}

func TestWriteError_DomainErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, domainerrors.New(domainerrors.CodeBadRequest, "page must be positive"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"bad_request"}`, rec.Body.String())
}

func TestWriteError_UnknownErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal"}`, rec.Body.String())
}
