// Package extraction defines the document-understanding capability boundary.
// The capability is external and opaque; implementations only promise a
// key-value field map plus an overall confidence.
package extraction

import (
	"context"
	"errors"
	"fmt"
)

// Result is the raw output of one analysis call. Fields carries whatever the
// capability extracted; callers must not assume a fixed schema beyond the
// required certificate fields checked during normalization.
type Result struct {
	Fields     map[string]any
	Confidence float64
}

// Capability analyzes document bytes. Latency is unbounded from the caller's
// perspective; the orchestrator enforces a per-attempt timeout through ctx.
type Capability interface {
	Analyze(ctx context.Context, document []byte) (*Result, error)
}

// ErrPermanent marks an analysis failure that retrying cannot fix (malformed
// document, capability reports unrecoverable error). Failures not wrapping it
// are treated as transient and retried with backoff.
var ErrPermanent = errors.New("permanent extraction failure")

// Permanent wraps err as unrecoverable.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err is terminal for the current document.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
