package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	chat "github.com/soundwave-music/chat-go"
	"github.com/spf13/cobra"
)

var onlineWait bool

func init() {
	onlineCmd.Flags().BoolVar(&onlineWait, "wait", false, "keep listening and print presence changes until interrupted")
	rootCmd.AddCommand(onlineCmd)
}

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List which of the people you follow are online",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireAuth()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		session, err := newSession(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		fctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		following, err := session.Following(fctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to load contacts: %w", err)
		}
		known := make(map[string]chat.User, len(following))
		for _, u := range following {
			known[u.ID] = u
		}

		updates := make(chan chat.PresenceSnapshot, 16)
		session.Connection().OnPresence(func(p chat.PresenceSnapshot) { updates <- p })

		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = session.Connect(cctx)
		cancel()
		if err != nil {
			return err
		}

		var first chat.PresenceSnapshot
		select {
		case first = <-updates:
		case <-time.After(5 * time.Second):
			return fmt.Errorf("no presence snapshot received")
		case <-ctx.Done():
			return nil
		}
		printOnline(first, following, cfg.Auth.UserID)
		if !onlineWait {
			return nil
		}

		prev := chat.NewIDSet(first.Online...)
		for {
			select {
			case <-ctx.Done():
				return nil
			case p := <-updates:
				now := chat.NewIDSet(p.Online...)
				for _, id := range now.Sorted() {
					if !prev.Has(id) {
						fmt.Printf("%s  + %s\n", time.Now().Format("15:04:05"), displayName(id, cfg.Auth.UserID, known))
					}
				}
				for _, id := range prev.Sorted() {
					if !now.Has(id) {
						fmt.Printf("%s  - %s\n", time.Now().Format("15:04:05"), displayName(id, cfg.Auth.UserID, known))
					}
				}
				prev = now
			}
		}
	},
}

func printOnline(p chat.PresenceSnapshot, following []chat.User, selfID string) {
	online := chat.NewIDSet(p.Online...)
	followed := chat.UserIDs(following)

	fmt.Printf("Following (%d):\n", len(following))
	for _, u := range following {
		mark := "○"
		if online.Has(u.ID) {
			mark = "●"
		}
		line := fmt.Sprintf("  %s %s", mark, u.Name())
		if a := p.Activity[u.ID]; a != "" {
			line += "  ♪ " + a
		}
		fmt.Println(line)
	}

	others := 0
	for id := range online {
		if id != selfID && !followed.Has(id) {
			others++
		}
	}
	fmt.Printf("\n%d online in total, %d you don't follow.\n", len(online), others)
}
