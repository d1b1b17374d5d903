package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	chat "github.com/soundwave-music/chat-go"
	"github.com/spf13/cobra"
)

func init() {
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "print the config file as stored")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage soundchat configuration",
	Long:  "View or modify the soundchat configuration stored in ~/.soundwave/config.toml.",
}

var configShowRaw bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print the settings soundchat will use, with defaults filled in. --raw prints the file as stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowRaw {
			path, err := configPath()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No configuration file found. Run 'soundchat login <user-id> <token>' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return printSettings(cmd.OutOrStdout(), cfg)
	},
}

// printSettings writes the resolved settings, marking values that come
// from defaults.
func printSettings(w io.Writer, cfg *Config) error {
	delay, err := cfg.Chat.reconnectDelay()
	if err != nil {
		return err
	}
	level, err := parseLevel(valueOrDefault(logLevelFlag, cfg.Chat.LogLevel))
	if err != nil {
		return err
	}
	wsURL := strings.Replace(baseURL(cfg), "http", "ws", 1) + "/chat/" + valueOrDefault(cfg.Auth.UserID, "<user-id>")

	row := func(key, value string, fromDefault bool) {
		if fromDefault {
			value += "  (default)"
		}
		fmt.Fprintf(w, "  %-22s %s\n", key, value)
	}

	fmt.Fprintln(w, "[default]")
	row("base_url", baseURL(cfg), cfg.Default.BaseURL == "")
	row("socket", wsURL, false)

	fmt.Fprintln(w, "[auth]")
	row("user_id", valueOrDefault(cfg.Auth.UserID, "(not logged in)"), false)
	row("username", valueOrDefault(cfg.Auth.Username, "-"), false)
	token := "(not set)"
	if cfg.Auth.Token != "" {
		token = maskKey(cfg.Auth.Token)
	}
	row("token", token, false)

	fmt.Fprintln(w, "[chat]")
	row("page_size", strconv.Itoa(pageSizeOrDefault(cfg.Chat.PageSize)), cfg.Chat.PageSize <= 0)
	if delay <= 0 {
		delay = chat.DefaultReconnectDelay
	}
	row("reconnect_delay", delay.String(), cfg.Chat.ReconnectDelay == "")
	row("log_level", level.String(), cfg.Chat.LogLevel == "" && logLevelFlag == "")
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: soundchat config set chat.page_size 30",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
