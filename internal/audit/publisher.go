// Package audit fans processing-log entries out to the Metadata Store and,
// when configured, a Kafka topic. The log is append-only and best-effort: a
// failed write is reported operationally but never fails the caller's state
// transition.
package audit

import (
	"context"
	"log/slog"
	"time"

	"certvault/internal/certificate"
)

// Appender is the slice of the Metadata Store the publisher needs.
type Appender interface {
	AppendLog(ctx context.Context, entry certificate.ProcessingLogEntry) error
}

// Publisher records processing outcomes. Emit never returns an error; record
// durability takes priority over audit completeness.
type Publisher struct {
	store  Appender
	logger *slog.Logger
	mirror chan<- certificate.ProcessingLogEntry
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMirror copies every entry onto ch for asynchronous export. Sends never
// block; entries are dropped when the mirror cannot keep up.
func WithMirror(ch chan<- certificate.ProcessingLogEntry) Option {
	return func(p *Publisher) {
		p.mirror = ch
	}
}

// NewPublisher creates a processing-log publisher.
func NewPublisher(store Appender, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Emit appends one entry. Store failures are logged, not propagated, so the
// record's own state transition is never blocked by audit plumbing.
func (p *Publisher) Emit(ctx context.Context, entry certificate.ProcessingLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := p.store.AppendLog(ctx, entry); err != nil {
		p.logger.ErrorContext(ctx, "processing log append failed",
			"outcome", entry.Outcome,
			"message", entry.Message,
			"error", err.Error(),
		)
	}
	if p.mirror != nil {
		select {
		case p.mirror <- entry:
		default:
			p.logger.WarnContext(ctx, "processing log mirror full, entry dropped")
		}
	}
}
