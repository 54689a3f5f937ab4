// Package notify emits fire-and-forget lifecycle events. Delivery is best
// effort; nothing in the core depends on an event arriving.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventArtifactReady      EventType = "artifact_ready"
	EventReviewRecorded     EventType = "review_recorded"
	EventConsensusPublished EventType = "consensus_published"
	EventCaseClosed         EventType = "case_closed"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	CaseID    string         `json:"case_id"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives lifecycle events. Implementations must not block callers on
// delivery and must never return delivery failures into the core flow.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, e Event) {
	zap.L().Info("event",
		zap.String("type", string(e.Type)),
		zap.String("case_id", e.CaseID),
		zap.Any("details", e.Details),
	)
}

// WebhookSink posts each event to a configured URL in the background.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Emit posts the event without blocking the caller. Failures are logged and
// dropped.
func (s *WebhookSink) Emit(_ context.Context, e Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.post(ctx, e); err != nil {
			zap.L().Warn("notify: webhook delivery failed",
				zap.String("type", string(e.Type)),
				zap.String("case_id", e.CaseID),
				zap.Error(err),
			)
		}
	}()
}

func (s *WebhookSink) post(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// emit builds and sends an event with the current timestamp.
func emit(ctx context.Context, sink Sink, t EventType, caseID string, details map[string]any) {
	if sink == nil {
		return
	}
	sink.Emit(ctx, Event{Type: t, CaseID: caseID, Details: details, Timestamp: time.Now().UTC()})
}

// ArtifactReady announces that a case's diagnostic artifact is available for
// review.
func ArtifactReady(ctx context.Context, sink Sink, caseID, artifactID string) {
	emit(ctx, sink, EventArtifactReady, caseID, map[string]any{"artifact_id": artifactID})
}

// ReviewRecorded announces a newly recorded review.
func ReviewRecorded(ctx context.Context, sink Sink, caseID, reviewID string) {
	emit(ctx, sink, EventReviewRecorded, caseID, map[string]any{"review_id": reviewID})
}

// ConsensusPublished announces a published consensus verdict.
func ConsensusPublished(ctx context.Context, sink Sink, caseID, answer string) {
	emit(ctx, sink, EventConsensusPublished, caseID, map[string]any{"final_answer": answer})
}

// CaseClosed announces a terminal case closure.
func CaseClosed(ctx context.Context, sink Sink, caseID string) {
	emit(ctx, sink, EventCaseClosed, caseID, nil)
}
