// Package orchestrator drives the per-document extraction state machine. It
// is the sole writer of extraction fields and status; reads go through the
// query service. Concurrency control is entirely the Metadata Store's
// conditional writes: upsert-if-absent dedupes at-least-once event delivery,
// and the Pending -> Processing transition is the per-document claim.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"certvault/internal/audit"
	"certvault/internal/certificate"
	"certvault/internal/extraction"
	"certvault/internal/ingest"
	"certvault/internal/objectstore"
	"certvault/internal/platform/metrics"
	"certvault/pkg/platform/sentinel"
)

// Config bounds the orchestrator's retry and concurrency behavior.
type Config struct {
	Workers        int
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
}

// Sleeper waits for the backoff duration or until ctx is canceled. Injectable
// for deterministic retry tests.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Orchestrator consumes ingestion events and advances certificate records to
// a terminal status.
type Orchestrator struct {
	store     certificate.Store
	objects   objectstore.Store
	extractor extraction.Capability
	auditLog  *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	queue     *ingest.Queue
	cfg       Config
	sleep     Sleeper
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the backoff sleep for testability.
func WithSleeper(sleep Sleeper) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// New wires the orchestrator against its collaborators.
func New(
	store certificate.Store,
	objects objectstore.Store,
	extractor extraction.Capability,
	auditLog *audit.Publisher,
	queue *ingest.Queue,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		store:     store,
		objects:   objects,
		extractor: extractor,
		auditLog:  auditLog,
		logger:    logger,
		metrics:   m,
		queue:     queue,
		cfg:       cfg,
		sleep:     defaultSleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Run processes queued events with a pool of workers until ctx is canceled.
// Events for distinct documents proceed concurrently; processing of a single
// document is serialized by the store's conditional writes, not by the pool.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case event := <-o.queue.Events():
					o.metrics.QueueDepth.Set(float64(o.queue.Len()))
					o.Handle(ctx, event)
				}
			}
		})
	}
	return g.Wait()
}

// Handle processes one ingestion event end to end. Duplicates are dropped
// with a log entry and no other side effects. Failures never propagate: the
// event source's at-least-once delivery is the retry mechanism for errors
// that happen before the record is claimed.
func (o *Orchestrator) Handle(ctx context.Context, event ingest.Event) {
	key := certificate.DeriveKey(event.Document)
	locator := event.Document.Locator()

	record, created, err := o.store.UpsertIfAbsent(ctx, key, locator)
	if err != nil {
		o.logger.ErrorContext(ctx, "upsert certificate record failed",
			"path", event.Document.Path,
			"error", err.Error(),
		)
		return
	}
	if !created && record.Status != certificate.StatusPending {
		o.dropDuplicate(ctx, record, "record already "+string(record.Status))
		return
	}

	// Claim the record. Losing this race means a concurrent handler owns it.
	claimed, err := o.store.TransitionStatus(ctx, record.ID, certificate.StatusPending, certificate.StatusProcessing, certificate.Mutation{})
	if err != nil {
		o.logger.ErrorContext(ctx, "claim certificate record failed",
			"certificate_id", record.ID,
			"error", err.Error(),
		)
		return
	}
	if !claimed {
		o.dropDuplicate(ctx, record, "record claimed by concurrent handler")
		return
	}

	o.process(ctx, record.ID, locator)
}

func (o *Orchestrator) dropDuplicate(ctx context.Context, record *certificate.CertificateRecord, reason string) {
	o.metrics.EventsDeduplicated.Inc()
	id := record.ID
	o.auditLog.Emit(ctx, certificate.ProcessingLogEntry{
		CertificateID: &id,
		Message:       "duplicate ingestion event ignored: " + reason,
		Outcome:       certificate.OutcomeSuccess,
	})
	o.logger.InfoContext(ctx, "duplicate ingestion event",
		"certificate_id", record.ID,
		"reason", reason,
	)
}

// process runs the bounded retry loop for a claimed record. The record stays
// Processing across backoff waits so replayed events keep deduplicating; only
// a full normalized result or a terminal failure is ever committed.
func (o *Orchestrator) process(ctx context.Context, id uuid.UUID, locator string) {
	for attempt := 1; ; attempt++ {
		err := o.attempt(ctx, id, locator, attempt)
		if err == nil {
			o.metrics.ExtractionAttempts.WithLabelValues("success").Inc()
			o.metrics.RecordsTerminal.WithLabelValues(string(certificate.StatusExtracted)).Inc()
			return
		}
		if ctx.Err() != nil {
			// Shutdown mid-flight: nothing partial was committed. The record
			// stays Processing until a redelivered event or reprocess request.
			o.logger.WarnContext(ctx, "processing canceled",
				"certificate_id", id,
				"attempt", attempt,
			)
			return
		}
		if extraction.IsPermanent(err) {
			o.fail(ctx, id, attempt, "unrecoverable: "+err.Error())
			return
		}

		o.metrics.ExtractionAttempts.WithLabelValues("transient").Inc()
		o.auditLog.Emit(ctx, logEntry(id, certificate.OutcomeTransientError,
			fmt.Sprintf("attempt %d failed: %s", attempt, err.Error())))
		if attempt >= o.cfg.MaxAttempts {
			o.fail(ctx, id, attempt, fmt.Sprintf("gave up after %d attempts: %s", attempt, err.Error()))
			return
		}

		count := attempt
		if _, err := o.store.TransitionStatus(ctx, id, certificate.StatusProcessing, certificate.StatusProcessing,
			certificate.Mutation{AttemptCount: &count}); err != nil {
			o.logger.ErrorContext(ctx, "persist attempt count failed",
				"certificate_id", id,
				"error", err.Error(),
			)
		}
		backoff := o.cfg.BackoffBase << (attempt - 1)
		if err := o.sleep(ctx, backoff); err != nil {
			return
		}
	}
}

// attempt performs one fetch-analyze-commit cycle. A nil return means the
// record reached Extracted. Errors wrapping extraction.ErrPermanent are
// terminal; everything else is retried.
func (o *Orchestrator) attempt(ctx context.Context, id uuid.UUID, locator string, attempt int) error {
	document, err := o.objects.Get(ctx, locator)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The object vanished; no number of retries brings it back.
			return extraction.Permanent(err)
		}
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()
	result, err := o.extractor.Analyze(attemptCtx, document)
	if err != nil {
		return err
	}

	fields, err := normalizeResult(result)
	if err != nil {
		return err
	}

	count := attempt
	committed, err := o.store.TransitionStatus(ctx, id, certificate.StatusProcessing, certificate.StatusExtracted,
		certificate.Mutation{Fields: fields, AttemptCount: &count})
	if err != nil {
		return err
	}
	if !committed {
		// Only possible if the record was administratively moved; do not
		// overwrite whatever won.
		o.logger.WarnContext(ctx, "extracted result discarded, record no longer processing",
			"certificate_id", id,
		)
		return nil
	}

	o.auditLog.Emit(ctx, logEntry(id, certificate.OutcomeSuccess,
		fmt.Sprintf("extraction succeeded on attempt %d", attempt)))
	o.logger.InfoContext(ctx, "certificate extracted",
		"certificate_id", id,
		"attempt", attempt,
	)
	return nil
}

// fail records the permanent outcome in the log before finalizing the Failed
// status, so the log always reflects the most recent outcome.
func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, attempts int, message string) {
	o.metrics.ExtractionAttempts.WithLabelValues("permanent").Inc()
	o.auditLog.Emit(ctx, logEntry(id, certificate.OutcomePermanentError, message))

	count := attempts
	committed, err := o.store.TransitionStatus(ctx, id, certificate.StatusProcessing, certificate.StatusFailed,
		certificate.Mutation{AttemptCount: &count})
	if err != nil {
		o.logger.ErrorContext(ctx, "finalize failed status",
			"certificate_id", id,
			"error", err.Error(),
		)
		return
	}
	if committed {
		o.metrics.RecordsTerminal.WithLabelValues(string(certificate.StatusFailed)).Inc()
	}
	o.logger.WarnContext(ctx, "certificate processing failed permanently",
		"certificate_id", id,
		"attempts", attempts,
		"reason", message,
	)
}

// Reprocess resets a Failed record to Pending and re-enqueues its document.
// This is the only path out of Failed.
func (o *Orchestrator) Reprocess(ctx context.Context, id uuid.UUID) error {
	record, err := o.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	zero := 0
	reset, err := o.store.TransitionStatus(ctx, id, certificate.StatusFailed, certificate.StatusPending,
		certificate.Mutation{AttemptCount: &zero})
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("certificate %s is %s, only failed records can be reprocessed: %w",
			id, record.Status, sentinel.ErrInvalidState)
	}

	o.auditLog.Emit(ctx, logEntry(id, certificate.OutcomeSuccess, "reprocessing requested"))

	path, version := objectstore.SplitLocator(record.DocumentLocator)
	return o.queue.Enqueue(ctx, ingest.Event{
		Document:   certificate.DocumentIdentity{Path: path, ContentVersion: version},
		OccurredAt: time.Now(),
	})
}

func logEntry(id uuid.UUID, outcome certificate.Outcome, message string) certificate.ProcessingLogEntry {
	certID := id
	return certificate.ProcessingLogEntry{
		CertificateID: &certID,
		Message:       message,
		Outcome:       outcome,
	}
}
