package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/chat"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/turnrest"
)

const (
	envVarListenAddr      = "LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_ROULETTE_LOG_FORMAT"
	envVarLogLevel        = "AERO_ROULETTE_LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_ROULETTE_MODE"

	// Participant websocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueSize                 = "SEND_QUEUE_SIZE"

	// Chat.
	envVarChatHistoryLimit    = "CHAT_HISTORY_LIMIT"
	envVarMaxChatMessageBytes = "MAX_CHAT_MESSAGE_BYTES"

	// Ephemeral TURN credentials.
	envTurnRESTSharedSecret   = "AERO_TURN_REST_SHARED_SECRET"
	envTurnRESTTTL            = "AERO_TURN_REST_TTL"
	envTurnRESTUsernamePrefix = "AERO_TURN_REST_USERNAME_PREFIX"

	DefaultListenAddr           = "0.0.0.0:3001"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueSize                 = 256

	DefaultChatHistoryLimit    = chat.DefaultHistoryLimit
	DefaultMaxChatMessageBytes = 2000

	DefaultTurnRESTTTL            = time.Hour
	DefaultTurnRESTUsernamePrefix = "roulette"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// SendQueueSize bounds the outbound messages buffered per participant
	// before the connection is considered stuck and closed.
	SendQueueSize int

	ChatHistoryLimit    int
	MaxChatMessageBytes int

	// ICEServers is handed to clients on GET /webrtc/ice.
	ICEServers []webrtc.ICEServer
	// TurnREST, when enabled, adds a TURN entry with freshly minted
	// credentials to every GET /webrtc/ice response.
	TurnREST turnrest.Config

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It does not
// fail startup; readiness reports it instead.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSecret := envOrDefault(lookup, envTurnRESTSharedSecret, "")
	turnRESTPrefix := envOrDefault(lookup, envTurnRESTUsernamePrefix, DefaultTurnRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTL, err := envDurationOrDefault(lookup, envTurnRESTTTL, DefaultTurnRESTTTL)
	if err != nil {
		return Config{}, err
	}
	sendQueueSize, err := envIntOrDefault(lookup, envVarSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	chatHistoryLimit, err := envIntOrDefault(lookup, envVarChatHistoryLimit, DefaultChatHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	maxChatMessageBytes, err := envIntOrDefault(lookup, envVarMaxChatMessageBytes, DefaultMaxChatMessageBytes)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-roulette", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins, or * (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config handed to clients ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSecret, "turn-rest-shared-secret", turnRESTSecret, "coturn static-auth-secret; mints per-request TURN credentials for --turn-urls ("+envTurnRESTSharedSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "Lifetime of minted TURN credentials ("+envTurnRESTTTL+")")
	fs.StringVar(&turnRESTPrefix, "turn-rest-username-prefix", turnRESTPrefix, "Middle field of minted TURN usernames ("+envTurnRESTUsernamePrefix+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle participant WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on participant WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound WebSocket messages per second per participant (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueSize, "send-queue-size", sendQueueSize, "Outbound messages buffered per participant (env "+envVarSendQueueSize+")")
	fs.IntVar(&chatHistoryLimit, "chat-history-limit", chatHistoryLimit, "Chat messages kept per room (env "+envVarChatHistoryLimit+")")
	fs.IntVar(&maxChatMessageBytes, "max-chat-message-bytes", maxChatMessageBytes, "Max chat message text size in bytes (env "+envVarMaxChatMessageBytes+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}
	if sendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-size must be > 0", envVarSendQueueSize)
	}
	if chatHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("%s/--chat-history-limit must be > 0", envVarChatHistoryLimit)
	}
	if maxChatMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-chat-message-bytes must be > 0", envVarMaxChatMessageBytes)
	}
	if int64(maxChatMessageBytes) >= maxSignalingMessageBytes {
		return Config{}, fmt.Errorf("%s/--max-chat-message-bytes must be < %s/--max-signaling-message-bytes", envVarMaxChatMessageBytes, envVarMaxSignalingMessageBytes)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/%s: %w", envVarAllowedOrigins, "--allowed-origins", err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SendQueueSize:                 sendQueueSize,

		ChatHistoryLimit:    chatHistoryLimit,
		MaxChatMessageBytes: maxChatMessageBytes,
	}

	if turnRESTSecret != "" {
		cfg.TurnREST = turnrest.Config{
			SharedSecret:   turnRESTSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTPrefix,
			URLs:           splitCommaSeparated(turnURLs),
		}
		if err := cfg.TurnREST.Validate(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", envTurnRESTSharedSecret, err)
		}
		// The TURN URLs are served with minted credentials instead.
		turnURLs, turnUsername, turnCredential = "", "", ""
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

// ParseLogLevel is shared with the command line client.
func ParseLogLevel(raw string) (slog.Level, error) {
	return parseLogLevel(raw)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
