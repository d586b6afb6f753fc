package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skaldera/vigil/internal/config"
	apiclient "github.com/skaldera/vigil/pkg/api/client"
	"github.com/skaldera/vigil/pkg/logger"
)

var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "vigil-agent",
	Short:         "On-device proctoring agent",
	Version:       buildVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// credentials is the on-disk session of the logged-in proctor.
type credentials struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

func loadAgentConfig() (*config.Agent, error) {
	return config.LoadAgent()
}

func credentialsPath(cfg *config.Agent) (string, error) {
	if path := strings.TrimSpace(cfg.CredentialsPath); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".vigil", "credentials.json"), nil
}

func loadCredentials(cfg *config.Agent) (credentials, error) {
	path, err := credentialsPath(cfg)
	if err != nil {
		return credentials{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return credentials{}, fmt.Errorf("not logged in, run 'vigil-agent login' first")
		}
		return credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return credentials{}, fmt.Errorf("credentials file has no token, run 'vigil-agent login'")
	}
	return creds, nil
}

func saveCredentials(cfg *config.Agent, creds credentials) error {
	path, err := credentialsPath(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func newAPIClient(cfg *config.Agent, creds credentials) (*apiclient.Client, error) {
	base := creds.APIBaseURL
	if base == "" {
		base = cfg.APIBaseURL
	}
	return apiclient.New(base)
}

func agentLogger() *slog.Logger {
	return logger.New("agent", logger.ParseLevel(os.Getenv("VIGIL_LOG_LEVEL")))
}
