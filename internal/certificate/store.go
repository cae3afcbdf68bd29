package certificate

import (
	"context"

	"github.com/google/uuid"
)

// Mutation carries the optional field changes applied alongside a status
// transition. A nil Fields leaves extracted fields untouched; a nil
// AttemptCount leaves the counter untouched.
type Mutation struct {
	Fields       *ExtractedFields
	AttemptCount *int
}

// Store is the Metadata Store contract. It is the single source of truth and
// the only shared mutable resource in the pipeline; its conditional-write
// primitives are the sole concurrency control for per-document processing.
//
// Implementations return pkg/platform/sentinel errors for infrastructure
// facts: ErrNotFound for unknown ids, ErrConflict for idempotency-key
// collisions outside UpsertIfAbsent, ErrInvalidState for transitions
// CanTransition rejects.
type Store interface {
	// UpsertIfAbsent atomically creates a Pending record for the key or
	// returns the existing one. The boolean reports whether a record was
	// created. Concurrent calls with the same key observe exactly one
	// creation.
	UpsertIfAbsent(ctx context.Context, key Key, locator string) (*CertificateRecord, bool, error)

	// TransitionStatus conditionally moves a record from expected to next,
	// applying mut in the same write. It returns false with no mutation when
	// the current status does not match expected, signaling a lost race to
	// the caller.
	TransitionStatus(ctx context.Context, id uuid.UUID, expected, next Status, mut Mutation) (bool, error)

	// GetByID fetches a record or sentinel.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*CertificateRecord, error)

	// Search returns the matching page ordered by creation time descending
	// (id descending as tiebreak) plus the total match count.
	Search(ctx context.Context, filters SearchFilters) ([]*CertificateRecord, int, error)

	// AppendLog appends one processing log entry. Entries are never updated
	// or deleted.
	AppendLog(ctx context.Context, entry ProcessingLogEntry) error

	// ListLog returns a record's log entries oldest first.
	ListLog(ctx context.Context, certificateID uuid.UUID) ([]ProcessingLogEntry, error)
}
