package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certvault/internal/ingest"
	"certvault/internal/platform/metrics"
)

func newTestHandler(queueSize int) (*Handler, *ingest.Queue) {
	queue := ingest.NewQueue(queueSize)
	return New(queue, slog.New(slog.DiscardHandler), metrics.NewForTest()), queue
}

func storageEvent(name, generation string) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID("event-1")
	event.SetType("google.cloud.storage.object.v1.finalized")
	event.SetSource("//storage.googleapis.com/projects/_/buckets/certs")
	event.SetTime(time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	_ = event.SetData(cloudevents.ApplicationJSON,
		map[string]any{"bucket": "certs", "name": name, "generation": generation})
	return event
}

func TestReceive_EnqueuesDocument(t *testing.T) {
	h, queue := newTestHandler(4)

	require.NoError(t, h.receive(context.Background(), storageEvent("certificates/2024/001.pdf", "1700000000000001")))

	select {
	case queued := <-queue.Events():
		assert.Equal(t, "certificates/2024/001.pdf", queued.Document.Path)
		assert.Equal(t, "1700000000000001", queued.Document.ContentVersion)
		assert.Equal(t, 2026, queued.OccurredAt.Year())
	default:
		t.Fatal("expected a queued event")
	}
}

func TestReceive_RejectsEventWithoutObjectName(t *testing.T) {
	h, queue := newTestHandler(4)

	err := h.receive(context.Background(), storageEvent("", "1"))

	require.Error(t, err)
	assert.Equal(t, 0, queue.Len())
}

func TestReceive_FullQueueNacks(t *testing.T) {
	h, _ := newTestHandler(1)

	require.NoError(t, h.receive(context.Background(), storageEvent("a.pdf", "1")))
	err := h.receive(context.Background(), storageEvent("b.pdf", "1"))

	assert.Error(t, err, "a full queue must NACK so the sender redelivers")
}

func TestRegister_StructuredContentMode(t *testing.T) {
	h, queue := newTestHandler(4)
	router := chi.NewRouter()
	require.NoError(t, h.Register(context.Background(), router))

	body := `{
		"specversion": "1.0",
		"id": "event-7",
		"type": "google.cloud.storage.object.v1.finalized",
		"source": "//storage.googleapis.com/projects/_/buckets/certs",
		"datacontenttype": "application/json",
		"data": {"bucket": "certs", "name": "certificates/2024/002.pdf", "generation": 42}
	}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/cloudevents+json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300, "delivery should be ACKed")
	require.Equal(t, 1, queue.Len())
	queued := <-queue.Events()
	assert.Equal(t, "certificates/2024/002.pdf", queued.Document.Path)
	assert.Equal(t, "42", queued.Document.ContentVersion)
}
