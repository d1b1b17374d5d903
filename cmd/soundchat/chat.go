package main

import (
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	chat "github.com/soundwave-music/chat-go"
	"github.com/spf13/cobra"
)

var chatRoom string

func init() {
	chatCmd.Flags().StringVar(&chatRoom, "room", "", "open a group room instead of a direct conversation")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [peer-id]",
	Short: "Open the interactive chat",
	Long: `Open the interactive chat. Without arguments the first person you follow
is selected; tab cycles through contacts.

Keys: enter sends, pgup/home loads older messages, ctrl+r retries the last
failed message, esc quits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireAuth()
		if err != nil {
			return err
		}

		var initial chat.Conversation
		switch {
		case chatRoom != "" && len(args) == 1:
			return chat.ErrBothTargets
		case chatRoom != "":
			initial.RoomID = chatRoom
		case len(args) == 1:
			initial.PeerID = args[0]
		}

		logFile, err := openLogFile()
		if err != nil {
			return err
		}
		defer logFile.Close()
		logger, err := newLogger(cfg, logFile)
		if err != nil {
			return err
		}

		// The program is created after the session, so notifications are
		// routed through p once it exists.
		var program atomic.Pointer[tea.Program]
		notifier := chat.NotifierFunc(func(n chat.Notification) {
			if p := program.Load(); p != nil {
				go p.Send(noteMsg(n))
			}
		})

		session, err := newSession(cfg, logger, notifier)
		if err != nil {
			return err
		}
		defer session.Close()

		p := tea.NewProgram(
			newModel(cmd.Context(), session, initial),
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
			tea.WithContext(cmd.Context()),
		)
		program.Store(p)
		wireSession(session, p)

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("chat ui: %w", err)
		}
		return nil
	},
}

// wireSession forwards session events into the program. Sends happen on
// their own goroutine because Program.Send blocks until the event loop is
// free, and store changes are often made from inside a command.
func wireSession(session *chat.Session, p *tea.Program) {
	refresh := func() { go p.Send(refreshMsg{}) }

	session.Store().OnChange(refresh)
	conn := session.Connection()
	conn.OnConnected(refresh)
	conn.OnDisconnected(func(int, string) { refresh() })
	conn.OnReconnecting(func(int, time.Duration) { refresh() })
	conn.OnPresence(func(chat.PresenceSnapshot) { refresh() })
}
