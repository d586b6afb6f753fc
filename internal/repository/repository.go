package repository

import (
	"context"

	"github.com/skaldera/vigil/internal/domain"
)

// ProctorRepository persists proctor accounts.
type ProctorRepository interface {
	CreateProctor(ctx context.Context, proctor *domain.Proctor) error
	GetProctorByEmail(ctx context.Context, email string) (*domain.Proctor, error)
	GetProctorByID(ctx context.Context, id string) (*domain.Proctor, error)
}

// SessionRepository persists proctored sessions. Mutation goes through
// PatchSession, whose patch struct is the allow-list: fields outside it
// cannot be expressed, let alone updated.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSessionByID(ctx context.Context, id string) (*domain.Session, error)
	PatchSession(ctx context.Context, id string, patch domain.SessionPatch) error
	ListSessionsByProctor(ctx context.Context, proctorID string, limit, offset int) ([]domain.Session, error)
}

// EventRepository is the append-only event log. ListEventsBySession returns
// events sorted by offset; arrival order is meaningless because batches may
// land out of order across flush cycles.
type EventRepository interface {
	AppendEvents(ctx context.Context, sessionID string, events []domain.Event) error
	ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]domain.Event, error)
	CountEventsByType(ctx context.Context, sessionID string) (map[domain.EventType]int, error)
	MaxEventOffset(ctx context.Context, sessionID string) (int64, error)
}
