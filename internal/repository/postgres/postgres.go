package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProctorRepository = (*Repository)(nil)
	_ repository.SessionRepository = (*Repository)(nil)
	_ repository.EventRepository   = (*Repository)(nil)
)

// CreateProctor inserts a proctor account.
func (r *Repository) CreateProctor(ctx context.Context, proctor *domain.Proctor) error {
	const query = `INSERT INTO proctors (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, proctor.ID, proctor.Email, proctor.PasswordHash, proctor.CreatedAt)
	return err
}

// GetProctorByEmail fetches a proctor by email.
func (r *Repository) GetProctorByEmail(ctx context.Context, email string) (*domain.Proctor, error) {
	const query = `SELECT id, email, password_hash, created_at FROM proctors WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var p domain.Proctor
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProctorByID retrieves a proctor by identifier.
func (r *Repository) GetProctorByID(ctx context.Context, id string) (*domain.Proctor, error) {
	const query = `SELECT id, email, password_hash, created_at FROM proctors WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var p domain.Proctor
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateSession inserts a session record.
func (r *Repository) CreateSession(ctx context.Context, session *domain.Session) error {
	const query = `INSERT INTO sessions (id, proctor_id, candidate_name, started_at, ended_at, recording_ref, integrity_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		session.ID, session.ProctorID, session.CandidateName, session.StartedAt,
		session.EndedAt, session.RecordingRef, session.IntegrityScore, session.CreatedAt)
	return err
}

// GetSessionByID returns a session by identifier.
func (r *Repository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	const query = `SELECT id, proctor_id, candidate_name, started_at, ended_at, recording_ref, integrity_score, created_at
		FROM sessions WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.ProctorID, &s.CandidateName, &s.StartedAt, &s.EndedAt, &s.RecordingRef, &s.IntegrityScore, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// PatchSession updates the allow-listed mutable session fields. The patch
// struct is the allow-list; an empty patch is rejected rather than silently
// succeeding.
func (r *Repository) PatchSession(ctx context.Context, id string, patch domain.SessionPatch) error {
	if patch.Empty() {
		return repository.ErrEmptyPatch
	}
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.CandidateName != nil {
		add("candidate_name", *patch.CandidateName)
	}
	if patch.EndedAt != nil {
		add("ended_at", *patch.EndedAt)
	}
	if patch.RecordingRef != nil {
		add("recording_ref", *patch.RecordingRef)
	}
	if patch.IntegrityScore != nil {
		add("integrity_score", *patch.IntegrityScore)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListSessionsByProctor returns a proctor's sessions, newest first.
func (r *Repository) ListSessionsByProctor(ctx context.Context, proctorID string, limit, offset int) ([]domain.Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, proctor_id, candidate_name, started_at, ended_at, recording_ref, integrity_score, created_at
		FROM sessions WHERE proctor_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, proctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.ProctorID, &s.CandidateName, &s.StartedAt, &s.EndedAt, &s.RecordingRef, &s.IntegrityScore, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AppendEvents batch-inserts events for a session. Inserts go through
// CopyFrom so a flushed batch lands as one round trip.
func (r *Repository) AppendEvents(ctx context.Context, sessionID string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{e.ID, sessionID, string(e.Type), e.OffsetMS, e.Confidence, e.Metadata, e.CreatedAt})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"events"},
		[]string{"id", "session_id", "event_type", "offset_ms", "confidence", "metadata", "created_at"},
		pgx.CopyFromRows(rows))
	return err
}

// ListEventsBySession returns a session's events sorted by offset.
func (r *Repository) ListEventsBySession(ctx context.Context, sessionID string, limit int) ([]domain.Event, error) {
	query := `SELECT id, session_id, event_type, offset_ms, confidence, metadata, created_at
		FROM events WHERE session_id = $1 ORDER BY offset_ms ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var eventType string
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &e.OffsetMS, &e.Confidence, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEventsByType tallies a session's events by type.
func (r *Repository) CountEventsByType(ctx context.Context, sessionID string) (map[domain.EventType]int, error) {
	const query = `SELECT event_type, COUNT(1) FROM events WHERE session_id = $1 GROUP BY event_type`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[domain.EventType(eventType)] = count
	}
	return counts, rows.Err()
}

// MaxEventOffset returns the largest offset recorded for a session, or zero
// when the session has no events.
func (r *Repository) MaxEventOffset(ctx context.Context, sessionID string) (int64, error) {
	const query = `SELECT COALESCE(MAX(offset_ms), 0) FROM events WHERE session_id = $1`
	row := r.pool.QueryRow(ctx, query, sessionID)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}
