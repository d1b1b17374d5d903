package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	chat "github.com/soundwave-music/chat-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration, then open a live chat connection and report who is online.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:   %s\n", baseURL(cfg))
		fmt.Printf("  Page size:  %d\n", pageSizeOrDefault(cfg.Chat.PageSize))
		fmt.Printf("  Reconnect:  %s\n", valueOrDefault(cfg.Chat.ReconnectDelay, chat.DefaultReconnectDelay.String()))
		fmt.Printf("  Log level:  %s\n", valueOrDefault(cfg.Chat.LogLevel, "info"))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.UserID == "" {
			fmt.Println("  User:       (not logged in)")
			return nil
		}
		fmt.Printf("  User:       %s (%s)\n", valueOrDefault(cfg.Auth.Username, "-"), cfg.Auth.UserID)
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:      %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:      (not set)")
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		logger, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		// The probe reports failures itself.
		if logger.GetLevel() > log.DebugLevel {
			logger.SetLevel(log.ErrorLevel)
		}
		notes := &chat.NotificationLog{}
		session, err := newSession(cfg, logger, notes)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		snapshot := make(chan chat.PresenceSnapshot, 1)
		session.Connection().OnPresence(func(p chat.PresenceSnapshot) {
			select {
			case snapshot <- p:
			default:
			}
		})

		start := time.Now()
		if err := session.Connect(ctx); err != nil {
			fmt.Printf("  Connection: failed (%v)\n", err)
			return nil
		}
		fmt.Printf("  Connection: %s in %s\n", session.ConnState(), time.Since(start).Round(time.Millisecond))

		select {
		case p := <-snapshot:
			fmt.Printf("  Online:     %d users\n", len(p.Online))
		case <-time.After(3 * time.Second):
			fmt.Println("  Online:     (no presence snapshot received)")
		}
		return nil
	},
}

func pageSizeOrDefault(n int) int {
	if n <= 0 {
		return chat.DefaultPageSize
	}
	return n
}
