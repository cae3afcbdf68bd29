// Package query is the read-facing surface over the Metadata Store and the
// token issuer. It validates input and shapes responses; it never writes
// certificate state.
package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"certvault/internal/certificate"
	"certvault/internal/token"
	domainerrors "certvault/pkg/domain-errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service composes store reads with token issuance.
type Service struct {
	store  certificate.Store
	issuer *token.Issuer
}

// NewService creates the read service.
func NewService(store certificate.Store, issuer *token.Issuer) *Service {
	return &Service{store: store, issuer: issuer}
}

// Search validates pagination and delegates to the store. Page and PageSize
// default when zero and are rejected when negative or oversized; both are
// always set on the store call so ordering stays deterministic across pages.
func (s *Service) Search(ctx context.Context, filters certificate.SearchFilters) ([]*certificate.CertificateRecord, int, error) {
	if filters.Page < 0 || filters.PageSize < 0 {
		return nil, 0, domainerrors.New(domainerrors.CodeBadRequest, "page and pageSize must be positive")
	}
	if filters.Page == 0 {
		filters.Page = 1
	}
	if filters.PageSize == 0 {
		filters.PageSize = defaultPageSize
	}
	if filters.PageSize > maxPageSize {
		return nil, 0, domainerrors.New(domainerrors.CodeBadRequest,
			fmt.Sprintf("pageSize must not exceed %d", maxPageSize))
	}
	if filters.GraduationYear < 0 {
		return nil, 0, domainerrors.New(domainerrors.CodeBadRequest, "graduationYear must be positive")
	}
	return s.store.Search(ctx, filters)
}

// Get fetches one record by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*certificate.CertificateRecord, error) {
	return s.store.GetByID(ctx, id)
}

// Download mints a short-lived credential for the record's original document.
func (s *Service) Download(ctx context.Context, id uuid.UUID) (*token.Grant, error) {
	return s.issuer.IssueDownloadToken(ctx, id)
}

// Log returns the record's processing history, oldest first.
func (s *Service) Log(ctx context.Context, id uuid.UUID) ([]certificate.ProcessingLogEntry, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListLog(ctx, id)
}
