package domain

import "time"

// Session is one proctored interview, from start to stop.
type Session struct {
	ID             string
	ProctorID      string
	CandidateName  string
	StartedAt      time.Time
	EndedAt        *time.Time
	RecordingRef   string
	IntegrityScore *int
	CreatedAt      time.Time
}

// SessionPatch carries the only session fields that may change after
// creation. The event log is the source of truth for the score; the value
// patched here is a denormalized cache refreshed on each report build.
type SessionPatch struct {
	CandidateName  *string
	EndedAt        *time.Time
	RecordingRef   *string
	IntegrityScore *int
}

// Empty reports whether the patch carries no changes.
func (p SessionPatch) Empty() bool {
	return p.CandidateName == nil && p.EndedAt == nil && p.RecordingRef == nil && p.IntegrityScore == nil
}

// Duration returns the wall-clock span of a cleanly stopped session, or
// false when the session has no end time.
func (s Session) Duration() (time.Duration, bool) {
	if s.EndedAt == nil {
		return 0, false
	}
	return s.EndedAt.Sub(s.StartedAt), true
}
