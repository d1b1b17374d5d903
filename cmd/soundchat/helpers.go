package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	chat "github.com/soundwave-music/chat-go"
)

// parseLevel maps chat.log_level to a log level; empty means info.
func parseLevel(s string) (log.Level, error) {
	if s == "" {
		return log.InfoLevel, nil
	}
	l, err := log.ParseLevel(strings.ToLower(s))
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
	}
	return l, nil
}

// newLogger creates a logger writing to w at the configured level. The
// --log-level flag wins over the config file.
func newLogger(cfg *Config, w io.Writer) (*log.Logger, error) {
	level, err := parseLevel(valueOrDefault(logLevelFlag, cfg.Chat.LogLevel))
	if err != nil {
		return nil, err
	}
	logger := chat.NewLogger(w)
	logger.SetLevel(level)
	return logger, nil
}

// openLogFile opens ~/.soundwave/chat.log for appending, so that logs stay
// out of the terminal UI.
func openLogFile() (*os.File, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "chat.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	return f, nil
}

// requireAuth loads the config and fails when nobody is logged in.
func requireAuth() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.UserID == "" || cfg.Auth.Token == "" {
		return nil, fmt.Errorf("not logged in. Run 'soundchat login <user-id> <token>' first")
	}
	return cfg, nil
}

func baseURL(cfg *Config) string {
	return valueOrDefault(cfg.Default.BaseURL, chat.DefaultBaseURL)
}

// newClient creates a REST client authenticated with the stored token.
func newClient(cfg *Config, logger *log.Logger) *chat.Client {
	return chat.NewClient(
		chat.WithBaseURL(baseURL(cfg)),
		chat.WithToken(cfg.Auth.Token),
		chat.WithLogger(logger),
	)
}

func selfUser(cfg *Config) chat.User {
	return chat.User{ID: cfg.Auth.UserID, Username: cfg.Auth.Username}
}

// newSession builds a chat session for the logged-in user.
func newSession(cfg *Config, logger *log.Logger, notifier chat.Notifier) (*chat.Session, error) {
	delay, err := cfg.Chat.reconnectDelay()
	if err != nil {
		return nil, err
	}
	return chat.NewSession(chat.SessionOptions{
		Self:     selfUser(cfg),
		Client:   newClient(cfg, logger),
		Realtime: chat.RealtimeConfig{ReconnectDelay: delay},
		PageSize: cfg.Chat.PageSize,
		Logger:   logger,
		Notifier: notifier,
	})
}

// displayName returns a readable name for userID, preferring a known user.
func displayName(userID, selfID string, known map[string]chat.User) string {
	if userID == selfID {
		return "you"
	}
	if u, ok := known[userID]; ok {
		return u.Name()
	}
	return userID
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
