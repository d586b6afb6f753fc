// Package report assembles post-session integrity reports. Scoring is
// recomputed from the event log on every build; the session's cached score
// is refreshed as a side effect and exists only for list views.
package report

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/repository"
	"github.com/skaldera/vigil/internal/scoring"
)

const (
	defaultTimelineLimit = 50
	defaultExportLimit   = 200
)

// Report is the assembled view consumed by JSON/CSV renderers. Renderers
// must never rescore; everything they need is here.
type Report struct {
	Session           domain.Session
	Score             int
	Breakdown         []scoring.BreakdownRow
	Counts            map[domain.EventType]int
	TotalEvents       int
	DurationMS        int64
	DurationEstimated bool
	Timeline          []domain.Event
	TimelineLimit     int
	GeneratedAt       time.Time
}

// Assembler builds reports from the session and event stores.
type Assembler struct {
	sessions      repository.SessionRepository
	events        repository.EventRepository
	rules         scoring.RuleTable
	timelineLimit int
	exportLimit   int
	logger        *slog.Logger
	now           func() time.Time
}

// NewAssembler constructs an Assembler. Zero limits fall back to the stock
// bounds (50 for display, 200 for export).
func NewAssembler(sessions repository.SessionRepository, events repository.EventRepository, rules scoring.RuleTable, timelineLimit, exportLimit int, logger *slog.Logger) *Assembler {
	if rules == nil {
		rules = scoring.DefaultRules()
	}
	if timelineLimit <= 0 {
		timelineLimit = defaultTimelineLimit
	}
	if exportLimit <= 0 {
		exportLimit = defaultExportLimit
	}
	if logger != nil {
		logger = logger.With("component", "report")
	}
	return &Assembler{
		sessions:      sessions,
		events:        events,
		rules:         rules,
		timelineLimit: timelineLimit,
		exportLimit:   exportLimit,
		logger:        logger,
		now:           time.Now,
	}
}

// Build assembles the display report, bounded to the display timeline limit.
func (a *Assembler) Build(ctx context.Context, sessionID string) (*Report, error) {
	return a.build(ctx, sessionID, a.timelineLimit)
}

// BuildExport assembles the export variant with the larger timeline bound.
func (a *Assembler) BuildExport(ctx context.Context, sessionID string) (*Report, error) {
	return a.build(ctx, sessionID, a.exportLimit)
}

func (a *Assembler) build(ctx context.Context, sessionID string, timelineLimit int) (*Report, error) {
	session, err := a.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	counts, err := a.events.CountEventsByType(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result := scoring.Compute(counts, a.rules)

	timeline, err := a.events.ListEventsBySession(ctx, sessionID, timelineLimit)
	if err != nil {
		return nil, err
	}

	durationMS, estimated, err := a.estimateDuration(ctx, session)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, count := range counts {
		total += count
	}

	report := &Report{
		Session:           *session,
		Score:             result.Score,
		Breakdown:         result.Breakdown,
		Counts:            counts,
		TotalEvents:       total,
		DurationMS:        durationMS,
		DurationEstimated: estimated,
		Timeline:          timeline,
		TimelineLimit:     timelineLimit,
		GeneratedAt:       a.now().UTC(),
	}
	a.cacheScore(ctx, session, result.Score)
	report.Session.IntegrityScore = &result.Score
	return report, nil
}

// estimateDuration prefers the clean start/stop span. Abandoned sessions
// have no end time, so the last known activity offset stands in, or zero
// when the log is empty.
func (a *Assembler) estimateDuration(ctx context.Context, session *domain.Session) (int64, bool, error) {
	if span, ok := session.Duration(); ok {
		return span.Milliseconds(), false, nil
	}
	maxOffset, err := a.events.MaxEventOffset(ctx, session.ID)
	if err != nil {
		return 0, false, err
	}
	return maxOffset, true, nil
}

// cacheScore refreshes the denormalized session score. Failure is logged
// and swallowed: the report itself is already correct and the cache will be
// rewritten on the next fetch.
func (a *Assembler) cacheScore(ctx context.Context, session *domain.Session, score int) {
	if session.IntegrityScore != nil && *session.IntegrityScore == score {
		return
	}
	err := a.sessions.PatchSession(ctx, session.ID, domain.SessionPatch{IntegrityScore: &score})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		if a.logger != nil {
			a.logger.Warn("failed to cache integrity score", "session_id", session.ID, "error", err)
		}
	}
}
