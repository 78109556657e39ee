package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/config"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Terminal client for the secure messaging platform",
	RunE:  runChat,
}

var (
	flagServerURL string
	flagWSURL     string
	flagLogFile   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", "", "REST API base URL (defaults to env SERVER_URL)")
	flags.StringVar(&flagWSURL, "ws-url", "", "websocket base URL (defaults to env WS_URL, derived from server URL if unset)")
	flags.StringVar(&flagLogFile, "log-file", "", "write logs to this file instead of stderr (the terminal is taken over by the UI)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if flagServerURL != "" {
		cfg.ServerURL = strings.TrimRight(flagServerURL, "/")
	}
	if flagWSURL != "" {
		cfg.WebSocketURL = strings.TrimRight(flagWSURL, "/")
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	app := ui.NewApp(cfg)
	return app.Run()
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		log.Logger = log.Output(f)
		return nil
	}

	// A TUI owns the terminal; without a log file, keep the logger quiet so
	// it cannot corrupt the screen.
	zerolog.SetGlobalLevel(zerolog.Disabled)
	return nil
}
