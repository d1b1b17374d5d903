package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chat "github.com/soundwave-music/chat-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	historyRoom  string
	historyPage  int
	historyLimit int
	historyJSON  bool
)

func init() {
	historyCmd.Flags().StringVar(&historyRoom, "room", "", "show a group room instead of a direct conversation")
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "page number; 1 is the most recent")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "messages per page (default from config)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output raw JSON")
	rootCmd.AddCommand(historyCmd)
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history [peer-id]",
	Short: "Print one page of conversation history",
	Long:  "Fetch one page of history for a direct conversation, or for a room with --room.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireAuth()
		if err != nil {
			return err
		}

		var conv chat.Conversation
		switch {
		case historyRoom != "" && len(args) == 1:
			return chat.ErrBothTargets
		case historyRoom != "":
			conv.RoomID = historyRoom
		case len(args) == 1:
			conv.PeerID = args[0]
		default:
			return fmt.Errorf("give a peer id or --room")
		}

		logger, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		client := newClient(cfg, logger)

		limit := historyLimit
		if limit <= 0 {
			limit = pageSizeOrDefault(cfg.Chat.PageSize)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		page, err := client.FetchHistory(ctx, cfg.Auth.UserID, conv, historyPage, limit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if historyJSON {
			data, err := json.MarshalIndent(page, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		msgs := append([]chat.Message(nil), page.Messages...)
		chat.SortMessages(msgs)
		if len(msgs) == 0 {
			fmt.Println("No messages.")
		}
		for _, m := range msgs {
			fmt.Printf("%s  %-12s %s\n",
				m.CreatedAt.Local().Format("2006-01-02 15:04"),
				displayName(m.SenderID, cfg.Auth.UserID, nil),
				m.Content)
		}
		if page.Pagination != nil && page.Pagination.HasMore {
			fmt.Printf("\nOlder messages: soundchat history --page %d\n", historyPage+1)
		}
		return nil
	},
}
