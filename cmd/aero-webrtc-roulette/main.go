package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/signaling"
)

// envFileVar names an optional dotenv file loaded before configuration is
// parsed. Variables already set in the environment take precedence.
const envFileVar = "AERO_ROULETTE_ENV_FILE"

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-roulette",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"ice_servers", len(cfg.ICEServers),
		"chat_history_limit", cfg.ChatHistoryLimit,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)
	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: commit, BuildTime: built}); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func loadEnvFile() error {
	path := ".env"
	if v, ok := os.LookupEnv(envFileVar); ok {
		path = v
	}
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// run serves until ctx is cancelled or the listener fails, then shuts down in
// order: the hub posts its shutdown notice, participant sockets flush and
// close, and finally the HTTP server stops.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ln net.Listener, build httpserver.BuildInfo) error {
	m := metrics.New()
	hub := matchmaking.NewHub(matchmaking.NewService(matchmaking.Options{
		Logger:           logger,
		Metrics:          m,
		ChatHistoryLimit: cfg.ChatHistoryLimit,
	}), 0)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := httpserver.New(cfg, logger, build)
	sig := signaling.NewServer(signaling.Config{
		Hub:                  hub,
		Metrics:              m,
		Logger:               logger,
		Origin:               srv.OriginPolicy(),
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		MaxChatMessageBytes:  cfg.MaxChatMessageBytes,
		SendQueueSize:        cfg.SendQueueSize,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopHub()
		<-hub.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = sig.Shutdown(closeCtx)
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopHub()
	<-hub.Done()
	if err := sig.Shutdown(shutdownCtx); err != nil {
		logger.Error("participant sockets did not close in time", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		return fmt.Errorf("http server exited after shutdown: %w", err)
	}
	return nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
