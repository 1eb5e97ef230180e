package main

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any website can open participant sockets)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will report not ready",
			"warning_code", "ice_servers_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is 0 (unlimited) while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	// Participants behind symmetric NATs cannot connect with STUN alone.
	if cfg.Mode == config.ModeProd && cfg.ICEConfigError() == nil && !hasTURNServer(cfg) {
		logger.Warn("startup warning: no TURN servers configured while --mode=prod",
			"warning_code", "no_turn_servers_in_prod",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}
}

func hasTURNServer(cfg config.Config) bool {
	if cfg.TurnREST.SharedSecret != "" {
		return true
	}
	return lo.SomeBy(cfg.ICEServers, func(s webrtc.ICEServer) bool {
		return lo.SomeBy(s.URLs, func(url string) bool {
			url = strings.ToLower(strings.TrimSpace(url))
			return strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:")
		})
	})
}
