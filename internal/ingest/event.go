// Package ingest carries storage-creation notifications from the eventing
// collaborator into the extraction pipeline. Delivery is at-least-once;
// deduplication happens downstream in the orchestrator, not here.
package ingest

import (
	"context"
	"fmt"
	"time"

	"certvault/internal/certificate"
	"certvault/pkg/platform/sentinel"
)

// Event is one storage-creation notification.
type Event struct {
	Document   certificate.DocumentIdentity `json:"documentIdentity"`
	OccurredAt time.Time                    `json:"occurredAt"`
}

// Queue is the channel-backed hand-off between event receivers and the
// orchestrator's worker pool.
type Queue struct {
	ch chan Event
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Event, size)}
}

// Enqueue hands an event to the pipeline. It fails rather than blocks when
// the buffer is full so push-based senders get backpressure and redeliver.
func (q *Queue) Enqueue(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- event:
		return nil
	default:
		return fmt.Errorf("ingest queue full: %w", sentinel.ErrUnavailable)
	}
}

// Events exposes the receive side for the worker pool.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Len reports the current queue depth, used for metrics.
func (q *Queue) Len() int {
	return len(q.ch)
}
