package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	uploadSession string
	uploadFile    string
)

func init() {
	uploadCmd.Flags().StringVar(&uploadSession, "session", "", "session ID to attach the recording to")
	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "path to the recording file")
	uploadCmd.MarkFlagRequired("session")
	uploadCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Retry uploading a locally saved recording",
	RunE:  runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
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
	f, err := os.Open(uploadFile)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	ref, err := api.UploadRecording(cmd.Context(), creds.AccessToken, uploadSession, filepath.Base(uploadFile), f)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	fmt.Printf("Recording uploaded as %s\n", ref)
	return nil
}
