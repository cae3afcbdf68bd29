// Package certificate defines the core records of the pipeline and the
// Metadata Store contract every other component goes through.
package certificate

import (
	"time"

	"github.com/google/uuid"
)

// Status is the processing state of a certificate record. Transitions are
// validated at the store boundary; see CanTransition.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusExtracted  Status = "EXTRACTED"
	StatusFailed     Status = "FAILED"
)

// CanTransition reports whether a status change is allowed. Status only
// advances forward; Failed is terminal until an explicit reprocessing request
// moves it back to Pending. Processing -> Processing is permitted so the
// orchestrator can bump attempt counts between retries without regressing.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusProcessing || to == StatusExtracted || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	default:
		return false
	}
}

// DocumentIdentity names a source document in external storage: its path plus
// the content version of the upload. A re-upload of the same path carries a
// new content version and is processed as an independent document.
type DocumentIdentity struct {
	Path           string `json:"path"`
	ContentVersion string `json:"contentVersion"`
}

// ExtractedFields holds the normalized output of the extraction capability.
// Only CertificateType and IssuingInstitution are required; everything else is
// best-effort.
type ExtractedFields struct {
	StudentName        string
	StudentID          string
	DateOfBirth        string
	CertificateType    string
	DegreeProgram      string
	GPA                *float64
	IssuingInstitution string
	GraduationDate     *time.Time
	TranscriptNumber   string
	ConfidenceScore    *float64
}

// CertificateRecord is the durable record for one uniquely-identified source
// document. At most one record exists per idempotency key.
type CertificateRecord struct {
	ID              uuid.UUID
	IdempotencyKey  Key
	Status          Status
	Fields          ExtractedFields
	DocumentLocator string
	AttemptCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Outcome classifies a processing log entry.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeTransientError Outcome = "TRANSIENT_ERROR"
	OutcomePermanentError Outcome = "PERMANENT_ERROR"
)

// ProcessingLogEntry is one append-only audit record. CertificateID is nil
// when the failure happened before a record existed.
type ProcessingLogEntry struct {
	ID            uuid.UUID
	CertificateID *uuid.UUID
	Timestamp     time.Time
	Message       string
	Outcome       Outcome
}

// SearchFilters narrows a certificate search. Zero values mean "no filter".
type SearchFilters struct {
	StudentID       string
	StudentName     string
	CertificateType string
	GraduationYear  int
	Page            int
	PageSize        int
}
