package main

import (
	"log/slog"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/vidmesh/signaling/internal/config"
)

// countICEServers tallies the configured STUN and TURN URLs for the startup
// summary.
func countICEServers(cfg config.Config) (stun, turn int) {
	for _, server := range cfg.ICEServers {
		for _, raw := range server.URLs {
			url := strings.ToLower(strings.TrimSpace(raw))
			switch {
			case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
				turn++
			case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
				stun++
			}
		}
	}
	return stun, turn
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail until fixed",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	_, turn := countICEServers(cfg)
	if turn == 0 {
		logger.Warn("startup warning: no TURN server configured; clients behind symmetric NATs will fail to connect to each other",
			"warning_code", "no_turn_server",
			"mode", cfg.Mode,
		)
	}
	for _, server := range cfg.ICEServers {
		if !iceServerHasTURNURL(server) {
			continue
		}
		cred, _ := server.Credential.(string)
		if strings.TrimSpace(server.Username) == "" || strings.TrimSpace(cred) == "" {
			logger.Warn("startup warning: TURN server configured without complete credentials",
				"warning_code", "turn_missing_credentials",
				"urls", server.URLs,
				"mode", cfg.Mode,
			)
		}
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRooms <= 0 {
		logger.Warn("startup warning: MAX_ROOMS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_rooms_unlimited_in_prod",
			"max_rooms", cfg.MaxRooms,
			"mode", cfg.Mode,
		)
	}

	// Oversized signaling messages are the easiest memory amplification knob.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}
