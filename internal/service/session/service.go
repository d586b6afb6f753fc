package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/repository"
)

// ErrNotOwner indicates the caller does not own the session.
var ErrNotOwner = errors.New("session belongs to another proctor")

// ErrAlreadyStopped indicates a stop request for a session that already has
// an end time.
var ErrAlreadyStopped = errors.New("session already stopped")

// Service owns the session lifecycle: start, stop, recording attach.
type Service struct {
	sessions repository.SessionRepository
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service.
func New(sessions repository.SessionRepository, logger *slog.Logger) Service {
	return Service{sessions: sessions, logger: logger, now: time.Now}
}

// Start creates a session owned by the proctor, stamped with the current
// time.
func (s Service) Start(ctx context.Context, proctorID, candidateName string) (*domain.Session, error) {
	if strings.TrimSpace(proctorID) == "" {
		return nil, errors.New("proctor_id required")
	}
	now := s.now().UTC()
	session := &domain.Session{
		ID:            uuid.NewString(),
		ProctorID:     proctorID,
		CandidateName: strings.TrimSpace(candidateName),
		StartedAt:     now,
		CreatedAt:     now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Info("session started", "session_id", session.ID, "proctor_id", proctorID)
	return session, nil
}

// Stop sets the session end time and, when provided, the recording
// reference. A missing recording reference is not an error: the session
// stays valid and the recording can be attached later.
func (s Service) Stop(ctx context.Context, proctorID, sessionID, recordingRef string) (*domain.Session, error) {
	session, err := s.owned(ctx, proctorID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		return nil, ErrAlreadyStopped
	}
	ended := s.now().UTC()
	patch := domain.SessionPatch{EndedAt: &ended}
	if ref := strings.TrimSpace(recordingRef); ref != "" {
		patch.RecordingRef = &ref
	}
	if err := s.sessions.PatchSession(ctx, sessionID, patch); err != nil {
		return nil, err
	}
	session.EndedAt = &ended
	if patch.RecordingRef != nil {
		session.RecordingRef = *patch.RecordingRef
	}
	s.logger.Info("session stopped", "session_id", sessionID)
	return session, nil
}

// AttachRecording sets the recording reference on an existing session. Used
// both by the upload endpoint and by manual retry after a failed
// upload-after-stop.
func (s Service) AttachRecording(ctx context.Context, proctorID, sessionID, ref string) error {
	if _, err := s.owned(ctx, proctorID, sessionID); err != nil {
		return err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return errors.New("recording reference required")
	}
	if err := s.sessions.PatchSession(ctx, sessionID, domain.SessionPatch{RecordingRef: &ref}); err != nil {
		return err
	}
	s.logger.Info("recording attached", "session_id", sessionID, "recording_ref", ref)
	return nil
}

// Patch applies the allow-listed mutable fields on behalf of the owner.
func (s Service) Patch(ctx context.Context, proctorID, sessionID string, patch domain.SessionPatch) (*domain.Session, error) {
	if _, err := s.owned(ctx, proctorID, sessionID); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, repository.ErrEmptyPatch
	}
	if err := s.sessions.PatchSession(ctx, sessionID, patch); err != nil {
		return nil, err
	}
	return s.sessions.GetSessionByID(ctx, sessionID)
}

// Get returns a session the proctor owns.
func (s Service) Get(ctx context.Context, proctorID, sessionID string) (*domain.Session, error) {
	return s.owned(ctx, proctorID, sessionID)
}

// List returns the proctor's sessions, newest first.
func (s Service) List(ctx context.Context, proctorID string, limit, offset int) ([]domain.Session, error) {
	return s.sessions.ListSessionsByProctor(ctx, proctorID, limit, offset)
}

func (s Service) owned(ctx context.Context, proctorID, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if proctorID != "" && session.ProctorID != proctorID {
		return nil, ErrNotOwner
	}
	return session, nil
}
