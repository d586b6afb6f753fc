package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var (
	reportSession string
	exportSession string
	exportOut     string
	sessionsLimit int
)

func init() {
	reportCmd.Flags().StringVar(&reportSession, "session", "", "session ID")
	reportCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(reportCmd)

	exportCmd.Flags().StringVar(&exportSession, "session", "", "session ID")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: report-<session>.csv)")
	exportCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(exportCmd)

	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the integrity report for a session",
	RunE:  runReport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the CSV report export for a session",
	RunE:  runExport,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions",
	RunE:  runSessions,
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}
	creds, err := loadCredentials(cfg)
	if err != nil {
		return err
	}
	api, err := newAPIClient(cfg, creds)
	if err != nil {
		return err
	}
	report, err := api.GetReport(cmd.Context(), creds.AccessToken, reportSession)
	if err != nil {
		return err
	}

	fmt.Printf("Session:          %s\n", report.Session.ID)
	if report.Session.CandidateName != "" {
		fmt.Printf("Candidate:        %s\n", report.Session.CandidateName)
	}
	fmt.Printf("Integrity score:  %d\n", report.IntegrityScore)
	duration := report.DurationMS
	suffix := ""
	if report.DurationEstimated {
		suffix = " (estimated)"
	}
	fmt.Printf("Duration:         %dms%s\n", duration, suffix)
	fmt.Printf("Total events:     %d\n", report.TotalEvents)
	if len(report.Breakdown) > 0 {
		fmt.Println("Deductions:")
		for _, row := range report.Breakdown {
			fmt.Printf("  %-16s x%-4d -%d\n", row.Type, row.Count, row.Deduction)
		}
	}
	if len(report.Counts) > 0 {
		types := make([]string, 0, len(report.Counts))
		for t := range report.Counts {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Println("Event counts:")
		for _, t := range types {
			fmt.Printf("  %-16s %d\n", t, report.Counts[t])
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}
	creds, err := loadCredentials(cfg)
	if err != nil {
		return err
	}
	api, err := newAPIClient(cfg, creds)
	if err != nil {
		return err
	}
	data, err := api.ExportCSV(cmd.Context(), creds.AccessToken, exportSession)
	if err != nil {
		return err
	}
	out := exportOut
	if out == "" {
		out = "report-" + exportSession + ".csv"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("Wrote %s\n", out)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}
	creds, err := loadCredentials(cfg)
	if err != nil {
		return err
	}
	api, err := newAPIClient(cfg, creds)
	if err != nil {
		return err
	}
	sessions, err := api.ListSessions(cmd.Context(), creds.AccessToken, sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range sessions {
		status := "running"
		if s.EndedAt != nil {
			status = "stopped"
		}
		score := "-"
		if s.IntegrityScore != nil {
			score = fmt.Sprintf("%d", *s.IntegrityScore)
		}
		fmt.Printf("%s  %-8s  score=%-4s  %s\n", s.ID, status, score, s.CandidateName)
	}
	return nil
}
