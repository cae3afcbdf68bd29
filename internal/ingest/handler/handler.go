// Package handler receives storage-finalize CloudEvents over HTTP and feeds
// them into the ingestion queue.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"

	"certvault/internal/certificate"
	"certvault/internal/ingest"
	"certvault/internal/platform/metrics"
)

// storageObjectData is the payload of an object-finalize event. Generation is
// a json.Number because eventing backends disagree on string versus number.
type storageObjectData struct {
	Bucket     string      `json:"bucket"`
	Name       string      `json:"name"`
	Generation json.Number `json:"generation"`
}

// Handler turns incoming CloudEvents into queue entries.
type Handler struct {
	queue   *ingest.Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an ingestion Handler.
func New(queue *ingest.Queue, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{queue: queue, logger: logger, metrics: m}
}

// Register mounts the CloudEvents receiver at POST /events.
func (h *Handler) Register(ctx context.Context, r chi.Router) error {
	protocol, err := cloudevents.NewHTTP()
	if err != nil {
		return fmt.Errorf("cloudevents protocol: %w", err)
	}
	receiver, err := cloudevents.NewHTTPReceiveHandler(ctx, protocol, h.receive)
	if err != nil {
		return fmt.Errorf("cloudevents receiver: %w", err)
	}
	r.Method(http.MethodPost, "/events", receiver)
	return nil
}

func (h *Handler) receive(ctx context.Context, event cloudevents.Event) error {
	var data storageObjectData
	if err := event.DataAs(&data); err != nil {
		h.logger.WarnContext(ctx, "malformed storage event",
			"event_id", event.ID(),
			"error", err.Error(),
		)
		return fmt.Errorf("decode storage event data: %w", err)
	}
	if data.Name == "" {
		h.logger.WarnContext(ctx, "storage event without object name", "event_id", event.ID())
		return fmt.Errorf("storage event %s has no object name", event.ID())
	}

	ingestEvent := ingest.Event{
		Document: certificate.DocumentIdentity{
			Path:           data.Name,
			ContentVersion: data.Generation.String(),
		},
		OccurredAt: event.Time(),
	}
	if err := h.queue.Enqueue(ctx, ingestEvent); err != nil {
		// Returning the error NACKs the delivery; the sender redelivers later.
		h.logger.WarnContext(ctx, "ingest queue rejected event",
			"event_id", event.ID(),
			"path", data.Name,
			"error", err.Error(),
		)
		return err
	}

	h.metrics.EventsReceived.Inc()
	h.logger.InfoContext(ctx, "ingestion event queued",
		"event_id", event.ID(),
		"path", data.Name,
		"content_version", data.Generation.String(),
	)
	return nil
}
