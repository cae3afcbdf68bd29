package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certvault/internal/audit"
	"certvault/internal/certificate"
	"certvault/internal/certificate/store/memory"
	"certvault/internal/extraction"
	"certvault/internal/ingest"
	"certvault/internal/platform/metrics"
	"certvault/pkg/platform/sentinel"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) put(locator string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[locator] = data
}

func (f *fakeObjects) Get(_ context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[locator]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", locator, sentinel.ErrNotFound)
	}
	return data, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	analyze func(call int) (*extraction.Result, error)
}

func (f *fakeExtractor) Analyze(_ context.Context, _ []byte) (*extraction.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.analyze(call)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func goodResult() (*extraction.Result, error) {
	return &extraction.Result{
		Fields: map[string]any{
			"studentName":        "Alice Jones",
			"studentId":          "S12345",
			"certificateType":    "Bachelor Degree",
			"degreeProgram":      "Mathematics",
			"gpa":                3.8,
			"issuingInstitution": "Test University",
			"graduationDate":     "2024-06-15",
		},
		Confidence: 0.93,
	}, nil
}

type fixture struct {
	store     *memory.Store
	objects   *fakeObjects
	extractor *fakeExtractor
	queue     *ingest.Queue
	orch      *Orchestrator
	backoffs  []time.Duration
}

func newFixture(t *testing.T, analyze func(call int) (*extraction.Result, error), cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		objects:   newFakeObjects(),
		extractor: &fakeExtractor{analyze: analyze},
		queue:     ingest.NewQueue(64),
	}
	logger := slog.New(slog.DiscardHandler)
	auditLog := audit.NewPublisher(f.store, logger)
	f.orch = New(f.store, f.objects, f.extractor, auditLog, f.queue, logger, metrics.NewForTest(), cfg,
		WithSleeper(func(_ context.Context, d time.Duration) error {
			f.backoffs = append(f.backoffs, d)
			return nil
		}),
	)
	return f
}

func testEvent() ingest.Event {
	return ingest.Event{
		Document:   certificate.DocumentIdentity{Path: "/c/2024/001.pdf", ContentVersion: "v1"},
		OccurredAt: time.Now(),
	}
}

func (f *fixture) record(t *testing.T) *certificate.CertificateRecord {
	t.Helper()
	key := certificate.DeriveKey(testEvent().Document)
	record, created, err := f.store.UpsertIfAbsent(context.Background(), key, testEvent().Document.Locator())
	require.NoError(t, err)
	require.False(t, created, "record should already exist")
	return record
}

func TestHandle_HappyPath(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) { return goodResult() }, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)

	record := f.record(t)
	assert.Equal(t, certificate.StatusExtracted, record.Status)
	assert.Equal(t, 1, record.AttemptCount)
	assert.Equal(t, "Bachelor Degree", record.Fields.CertificateType)
	assert.Equal(t, "Test University", record.Fields.IssuingInstitution)
	require.NotNil(t, record.Fields.ConfidenceScore)
	assert.InDelta(t, 0.93, *record.Fields.ConfidenceScore, 1e-9)
	require.NotNil(t, record.Fields.GraduationDate)
	assert.Equal(t, 2024, record.Fields.GraduationDate.Year())

	entries, err := f.store.ListLog(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, certificate.OutcomeSuccess, entries[0].Outcome)
}

func TestHandle_ReplayedEventIsNoOp(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) { return goodResult() }, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	for i := 0; i < 5; i++ {
		f.orch.Handle(context.Background(), event)
	}

	record := f.record(t)
	assert.Equal(t, certificate.StatusExtracted, record.Status)
	assert.Equal(t, 1, record.AttemptCount)
	assert.Equal(t, 1, f.extractor.callCount(), "duplicates must not re-run extraction")
}

func TestHandle_ConcurrentDuplicateEvents(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) { return goodResult() }, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.orch.Handle(context.Background(), event)
		}()
	}
	wg.Wait()

	record := f.record(t)
	assert.Equal(t, certificate.StatusExtracted, record.Status)
	assert.Equal(t, 1, record.AttemptCount)
	assert.Equal(t, 1, f.extractor.callCount())
}

func TestHandle_TransientFailuresRetryThenSucceed(t *testing.T) {
	f := newFixture(t, func(call int) (*extraction.Result, error) {
		if call < 3 {
			return nil, fmt.Errorf("upstream rate limited")
		}
		return goodResult()
	}, Config{BackoffBase: 100 * time.Millisecond})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)

	record := f.record(t)
	assert.Equal(t, certificate.StatusExtracted, record.Status)
	assert.Equal(t, 3, record.AttemptCount)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.backoffs,
		"backoff doubles per attempt")

	entries, err := f.store.ListLog(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, certificate.OutcomeTransientError, entries[0].Outcome)
	assert.Equal(t, certificate.OutcomeTransientError, entries[1].Outcome)
	assert.Equal(t, certificate.OutcomeSuccess, entries[2].Outcome)
}

func TestHandle_RetryBoundExhaustion(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) {
		return nil, context.DeadlineExceeded
	}, Config{MaxAttempts: 5})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)

	record := f.record(t)
	assert.Equal(t, certificate.StatusFailed, record.Status)
	assert.Equal(t, 5, record.AttemptCount, "exactly the configured maximum")
	assert.Equal(t, 5, f.extractor.callCount())
	assert.Len(t, f.backoffs, 4, "no backoff after the final attempt")

	entries, err := f.store.ListLog(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, certificate.OutcomePermanentError, entries[5].Outcome)
}

func TestHandle_MissingRequiredFieldIsPermanent(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) {
		return &extraction.Result{
			Fields:     map[string]any{"studentName": "Alice"},
			Confidence: 0.9,
		}, nil
	}, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)

	record := f.record(t)
	assert.Equal(t, certificate.StatusFailed, record.Status)
	assert.Equal(t, 1, f.extractor.callCount(), "permanent failures are not retried")
}

func TestHandle_ConfidenceOutOfRangeIsPermanent(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) {
		result, _ := goodResult()
		result.Confidence = 1.7
		return result, nil
	}, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)

	record := f.record(t)
	assert.Equal(t, certificate.StatusFailed, record.Status)
	assert.Nil(t, record.Fields.ConfidenceScore, "nothing partial is committed")
}

func TestHandle_MissingObjectIsPermanent(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) { return goodResult() }, Config{})

	f.orch.Handle(context.Background(), testEvent())

	record := f.record(t)
	assert.Equal(t, certificate.StatusFailed, record.Status)
	assert.Equal(t, 0, f.extractor.callCount())
}

func TestHandle_CancellationLeavesNoPartialCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, func(int) (*extraction.Result, error) {
		cancel()
		return nil, context.Canceled
	}, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(ctx, event)

	record := f.record(t)
	assert.Equal(t, certificate.StatusProcessing, record.Status)
	assert.Empty(t, record.Fields.CertificateType)
}

func TestReprocess_FailedRecord(t *testing.T) {
	calls := 0
	f := newFixture(t, func(int) (*extraction.Result, error) {
		calls++
		if calls == 1 {
			return nil, extraction.Permanent(fmt.Errorf("malformed document"))
		}
		return goodResult()
	}, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)
	record := f.record(t)
	require.Equal(t, certificate.StatusFailed, record.Status)

	require.NoError(t, f.orch.Reprocess(context.Background(), record.ID))

	// The reprocess request re-enqueued the document; drain it.
	select {
	case replay := <-f.queue.Events():
		assert.Equal(t, event.Document, replay.Document)
		f.orch.Handle(context.Background(), replay)
	default:
		t.Fatal("expected a re-enqueued event")
	}

	record = f.record(t)
	assert.Equal(t, certificate.StatusExtracted, record.Status)
	assert.Equal(t, 1, record.AttemptCount)
}

func TestReprocess_RejectsNonFailedRecord(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) { return goodResult() }, Config{})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	f.orch.Handle(context.Background(), event)
	record := f.record(t)
	require.Equal(t, certificate.StatusExtracted, record.Status)

	err := f.orch.Reprocess(context.Background(), record.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestRun_ProcessesQueuedEvents(t *testing.T) {
	f := newFixture(t, func(int) (*extraction.Result, error) { return goodResult() }, Config{Workers: 2})
	event := testEvent()
	f.objects.put(event.Document.Locator(), []byte("pdf bytes"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.orch.Run(ctx)
	}()

	require.NoError(t, f.queue.Enqueue(context.Background(), event))
	require.Eventually(t, func() bool {
		key := certificate.DeriveKey(event.Document)
		record, _, err := f.store.UpsertIfAbsent(context.Background(), key, event.Document.Locator())
		return err == nil && record.Status == certificate.StatusExtracted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
