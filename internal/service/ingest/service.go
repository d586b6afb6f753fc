package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/repository"
	"github.com/skaldera/vigil/internal/ws"
)

// MaxBatchSize bounds a single ingested batch.
const MaxBatchSize = 1000

// ErrEmptyBatch indicates an ingest request with no events.
var ErrEmptyBatch = errors.New("ingest: empty batch")

// ErrBatchTooLarge indicates a batch above MaxBatchSize.
var ErrBatchTooLarge = errors.New("ingest: batch too large")

// ErrInvalidEvent indicates a malformed event inside a batch.
var ErrInvalidEvent = errors.New("ingest: invalid event")

// Service validates and persists event batches and feeds the live stream.
// Batches may arrive out of order across flush cycles; the service appends
// them as delivered and leaves ordering to offset-sorted reads.
type Service struct {
	sessions repository.SessionRepository
	events   repository.EventRepository
	hub      *ws.Hub
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service.
func New(sessions repository.SessionRepository, events repository.EventRepository, hub *ws.Hub, logger *slog.Logger) *Service {
	if hub == nil {
		hub = ws.NewHub()
	}
	if logger != nil {
		logger = logger.With("component", "ingest")
	}
	return &Service{
		sessions: sessions,
		events:   events,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
}

// Append validates and stores one batch for a session, then broadcasts the
// stored events to live subscribers. Client-assigned event IDs are kept so
// a duplicate delivery of a retried-but-received batch stays identifiable;
// the store does not deduplicate.
func (s *Service) Append(ctx context.Context, sessionID string, events []domain.Event) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session_id required")
	}
	if len(events) == 0 {
		return ErrEmptyBatch
	}
	if len(events) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	if _, err := s.sessions.GetSessionByID(ctx, sessionID); err != nil {
		return err
	}

	prepared := make([]domain.Event, 0, len(events))
	for i, event := range events {
		event.SessionID = sessionID
		event.Type = domain.EventType(strings.TrimSpace(string(event.Type)))
		if event.Type == "" {
			return fmt.Errorf("%w %d: type required", ErrInvalidEvent, i)
		}
		if event.OffsetMS < 0 {
			return fmt.Errorf("%w %d: offset must be non-negative", ErrInvalidEvent, i)
		}
		if event.Confidence != nil && (*event.Confidence < 0 || *event.Confidence > 1) {
			return fmt.Errorf("%w %d: confidence out of range", ErrInvalidEvent, i)
		}
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = s.now().UTC()
		} else {
			event.CreatedAt = event.CreatedAt.UTC()
		}
		prepared = append(prepared, event)
	}

	if err := s.events.AppendEvents(ctx, sessionID, prepared); err != nil {
		return err
	}
	for _, event := range prepared {
		s.broadcast(event)
	}
	if s.logger != nil {
		s.logger.Debug("event batch stored", "session_id", sessionID, "count", len(prepared))
	}
	return nil
}

// List returns a session's events sorted by offset.
func (s *Service) List(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	sessionID = strings.TrimSpace(sessionID)
	if _, err := s.sessions.GetSessionByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.events.ListEventsBySession(ctx, sessionID, limit)
}

// Hub exposes the live stream hub for WebSocket/SSE consumers.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}

func (s *Service) broadcast(event domain.Event) {
	payload, err := MarshalEvent(event)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to marshal event for broadcast", "error", err)
		}
		return
	}
	s.hub.Broadcast(event.SessionID, payload)
}

// MarshalEvent encodes an event for SSE/WebSocket clients.
func MarshalEvent(event domain.Event) ([]byte, error) {
	var metadata any
	if len(event.Metadata) > 0 {
		metadata = json.RawMessage(event.Metadata)
	}
	payload := map[string]any{
		"id":         event.ID,
		"session_id": event.SessionID,
		"type":       event.Type,
		"offset_ms":  event.OffsetMS,
		"confidence": event.Confidence,
		"metadata":   metadata,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
