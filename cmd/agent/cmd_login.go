package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginEmail string

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "proctor email address")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the vigil API and store credentials",
	RunE:  runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadAgentConfig()
	if err != nil {
		return err
	}
	email := strings.TrimSpace(loginEmail)
	if email == "" {
		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email required")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	api, err := newAPIClient(cfg, credentials{})
	if err != nil {
		return err
	}
	resp, err := api.Login(cmd.Context(), email, string(password))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := saveCredentials(cfg, credentials{
		APIBaseURL:  cfg.APIBaseURL,
		AccessToken: resp.AccessToken,
	}); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", resp.Proctor.Email)
	return nil
}
