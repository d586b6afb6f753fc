package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skaldera/vigil/internal/agent"
	"github.com/skaldera/vigil/internal/capture"
	"github.com/skaldera/vigil/internal/detect"
)

var (
	runCandidate   string
	runNoRecording bool
)

func init() {
	runCmd.Flags().StringVar(&runCandidate, "candidate", "", "candidate name for the session")
	runCmd.Flags().BoolVar(&runNoRecording, "no-recording", false, "run detection without recording video")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a proctored session until interrupted",
	RunE:  runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}
	creds, err := loadCredentials(cfg)
	if err != nil {
		return err
	}
	log := agentLogger()

	api, err := newAPIClient(cfg, creds)
	if err != nil {
		return err
	}
	device, err := capture.Open(cfg.CaptureDevice, log)
	if err != nil {
		return err
	}
	adapter, err := detect.NewHTTPAdapter(cfg.InferenceURL)
	if err != nil {
		return err
	}

	var recorder *agent.Recorder
	if !runNoRecording {
		recorder, err = agent.NewRecorder(cfg.RecordingDir, cfg.RecordingFormats, device, log)
		if err != nil {
			return err
		}
		log.Info("recording format selected", "format", recorder.Format())
	}

	a, err := agent.New(*cfg, api, creds.AccessToken, device, adapter, recorder, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Session running, press Ctrl-C to stop.")
	session, err := a.Run(ctx, runCandidate)
	if err != nil {
		var uploadErr *agent.UploadError
		if errors.As(err, &uploadErr) {
			fmt.Printf("Session %s stopped, but the recording upload failed.\n", uploadErr.SessionID)
			fmt.Printf("The file is kept at %s, retry with:\n", uploadErr.Path)
			fmt.Printf("  vigil-agent upload --session %s --file %s\n", uploadErr.SessionID, uploadErr.Path)
			return err
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	fmt.Printf("Session %s stopped.\n", session.ID)
	if session.RecordingRef != "" {
		fmt.Printf("Recording uploaded as %s\n", session.RecordingRef)
	}
	return nil
}
