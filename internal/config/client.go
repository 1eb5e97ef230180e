package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client defaults.
const (
	DefaultServerURL     = "ws://localhost:3001/socket"
	DefaultStatsInterval = 5 * time.Second
	DefaultMaxBitrate    = 300_000

	envVarServerURL     = "ROULETTE_SERVER_URL"
	envVarStatsInterval = "ROULETTE_STATS_INTERVAL"
	envVarMaxBitrate    = "ROULETTE_MAX_BITRATE"
	envVarClientLogLvl  = "ROULETTE_LOG_LEVEL"
)

// ClientConfig holds the command line client configuration.
type ClientConfig struct {
	// ServerURL is the participant WebSocket endpoint.
	ServerURL string
	// StatsInterval is how often outbound video statistics are sampled.
	StatsInterval time.Duration
	// MaxBitrate caps the outbound video bitrate in bits per second.
	MaxBitrate uint64
	LogLevel   slog.Level
}

// ClientOptions carries values set by command line flags. Zero values fall
// through to the environment and then to the defaults.
type ClientOptions struct {
	ServerURL     string
	StatsInterval time.Duration
	MaxBitrate    uint64
	LogLevel      string
}

// LoadClient reads client configuration with the following priority:
// 1. CLI flags (passed via ClientOptions)
// 2. Environment variables
// 3. Defaults
func LoadClient(opts ClientOptions) (ClientConfig, error) {
	return loadClient(os.LookupEnv, opts)
}

func loadClient(lookup func(string) (string, bool), opts ClientOptions) (ClientConfig, error) {
	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = envOrDefault(lookup, envVarServerURL, DefaultServerURL)
	}
	if err := validateServerURL(serverURL); err != nil {
		return ClientConfig{}, err
	}

	statsInterval := opts.StatsInterval
	if statsInterval == 0 {
		d, err := envDurationOrDefault(lookup, envVarStatsInterval, DefaultStatsInterval)
		if err != nil {
			return ClientConfig{}, err
		}
		statsInterval = d
	}
	if statsInterval <= 0 {
		return ClientConfig{}, fmt.Errorf("stats interval must be > 0")
	}

	maxBitrate := opts.MaxBitrate
	if maxBitrate == 0 {
		maxBitrate = DefaultMaxBitrate
		if raw, ok := lookup(envVarMaxBitrate); ok && strings.TrimSpace(raw) != "" {
			n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return ClientConfig{}, fmt.Errorf("invalid %s %q: %w", envVarMaxBitrate, raw, err)
			}
			maxBitrate = n
		}
	}
	if maxBitrate == 0 {
		return ClientConfig{}, fmt.Errorf("max bitrate must be > 0")
	}

	logLevelStr := opts.LogLevel
	if logLevelStr == "" {
		logLevelStr = envOrDefault(lookup, envVarClientLogLvl, "warn")
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		ServerURL:     serverURL,
		StatsInterval: statsInterval,
		MaxBitrate:    maxBitrate,
		LogLevel:      level,
	}, nil
}

// HTTPBaseURL returns the server's HTTP origin derived from ServerURL, used
// for GET /status and GET /webrtc/ice.
func (c ClientConfig) HTTPBaseURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server url %q (expected ws:// or wss://)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server url %q (missing host)", raw)
	}
	return nil
}
