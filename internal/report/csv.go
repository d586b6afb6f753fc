package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV renders an assembled report as CSV. The renderer consumes the
// report as-is and never recomputes scoring.
func WriteCSV(w io.Writer, report *Report) error {
	cw := csv.NewWriter(w)

	meta := [][]string{
		{"session_id", report.Session.ID},
		{"candidate_name", report.Session.CandidateName},
		{"started_at", report.Session.StartedAt.UTC().Format(time.RFC3339)},
		{"ended_at", formatEndedAt(report)},
		{"duration_ms", strconv.FormatInt(report.DurationMS, 10)},
		{"duration_estimated", strconv.FormatBool(report.DurationEstimated)},
		{"integrity_score", strconv.Itoa(report.Score)},
		{"total_events", strconv.Itoa(report.TotalEvents)},
		{"generated_at", report.GeneratedAt.Format(time.RFC3339)},
	}
	for _, row := range meta {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv metadata: %w", err)
		}
	}

	if err := cw.Write([]string{}); err != nil {
		return err
	}
	if err := cw.Write([]string{"event_type", "count", "deduction"}); err != nil {
		return err
	}
	for _, row := range report.Breakdown {
		record := []string{string(row.Type), strconv.Itoa(row.Count), strconv.Itoa(row.Deduction)}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv breakdown: %w", err)
		}
	}

	if err := cw.Write([]string{}); err != nil {
		return err
	}
	if err := cw.Write([]string{"offset_ms", "event_type", "confidence", "metadata"}); err != nil {
		return err
	}
	for _, event := range report.Timeline {
		confidence := ""
		if event.Confidence != nil {
			confidence = strconv.FormatFloat(*event.Confidence, 'f', -1, 64)
		}
		record := []string{
			strconv.FormatInt(event.OffsetMS, 10),
			string(event.Type),
			confidence,
			string(event.Metadata),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv timeline: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatEndedAt(report *Report) string {
	if report.Session.EndedAt == nil {
		return ""
	}
	return report.Session.EndedAt.UTC().Format(time.RFC3339)
}
