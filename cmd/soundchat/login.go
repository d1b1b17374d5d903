package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginBaseURL  string
)

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "display username (looked up from the server when empty)")
	loginCmd.Flags().StringVar(&loginBaseURL, "base-url", "", "server base URL")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <user-id> <token>",
	Short: "Store your identity in ~/.soundwave/config.toml",
	Long:  "Store the user id and access token soundchat uses to talk to the Soundwave chat server.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.UserID = args[0]
		cfg.Auth.Token = args[1]
		cfg.Auth.Username = loginUsername
		if loginBaseURL != "" {
			cfg.Default.BaseURL = loginBaseURL
		}

		if cfg.Auth.Username == "" {
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if u, err := newClient(cfg, logger).GetUser(ctx, cfg.Auth.UserID); err != nil {
				fmt.Printf("Warning: could not verify user: %v\n", err)
			} else {
				cfg.Auth.Username = u.Username
			}
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Logged in as %s. Saved to %s\n", valueOrDefault(cfg.Auth.Username, cfg.Auth.UserID), path)
		return nil
	},
}
