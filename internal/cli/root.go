// Package cli implements the roulette command line participant.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
)

var (
	flagServerURL     string
	flagStatsInterval time.Duration
	flagMaxBitrate    uint64
	flagLogLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "roulette",
	Short: "Anonymous 1:1 video chat from the terminal",
	Long: `roulette connects to a webrtc-roulette server, pairs with a random partner
and negotiates a WebRTC call. The terminal carries the text chat; video is a
synthetic test pattern.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServerURL, "server", "s", "", "participant websocket URL (env ROULETTE_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (env ROULETTE_LOG_LEVEL)")
}

// Execute runs the root command. Interrupts cancel the command's context so
// an active call is left cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig layers flags over ROULETTE_* environment variables over
// defaults.
func loadConfig() (config.ClientConfig, error) {
	return config.LoadClient(config.ClientOptions{
		ServerURL:     flagServerURL,
		StatsInterval: flagStatsInterval,
		MaxBitrate:    flagMaxBitrate,
		LogLevel:      flagLogLevel,
	})
}

func newLogger(cfg config.ClientConfig) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}
