package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// DefaultSTUNURLs are handed to clients when no ICE servers are configured.
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// DefaultICEServers returns a fresh copy of the public STUN servers.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: append([]string(nil), DefaultSTUNURLs...)}}
}

func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}

	iceServers, err := ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return nil, err
	}
	if len(iceServers) == 0 {
		return DefaultICEServers(), nil
	}
	return iceServers, nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates AERO_ICE_SERVERS_JSON. An explicit
// empty list is allowed and disables the STUN defaults.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		pcServer := webrtc.ICEServer{
			URLs:     trimNonEmpty(server.URLs),
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}

		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds an ICE server list from
// comma-separated STUN and TURN URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	stunList := splitCommaSeparated(stunURLs)
	turnList := splitCommaSeparated(turnURLs)

	var servers []webrtc.ICEServer
	if len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}

		server := webrtc.ICEServer{
			URLs:       turnList,
			Username:   turnUsername,
			Credential: turnCredential,
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	return trimNonEmpty(strings.Split(value, ","))
}

func trimNonEmpty(values []string) []string {
	return lo.Compact(lo.Map(values, func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	if bad, found := lo.Find(server.URLs, func(url string) bool { return !isAllowedICEScheme(url) }); found {
		return fmt.Errorf("unsupported url scheme: %q", bad)
	}

	requiresTurnCreds := lo.SomeBy(server.URLs, func(url string) bool {
		return strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:")
	})
	if requiresTurnCreds {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}

	return nil
}

func isAllowedICEScheme(url string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}
