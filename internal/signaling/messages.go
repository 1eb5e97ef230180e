package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

const (
	ErrorCodeBadMessage    = protocol.ErrorCodeBadMessage
	ErrorCodeUnknownEvent  = protocol.ErrorCodeUnknownEvent
	ErrorCodeInvalidSignal = protocol.ErrorCodeInvalidSignal
	ErrorCodeInvalidChat   = protocol.ErrorCodeInvalidChat
)

var (
	errEmptySignal   = errors.New("signal payload is required")
	errChatTooLong   = errors.New("chat message too long")
	errChatEmptyText = errors.New("chat message text is required")
)

// decodeSignal extracts the opaque signal from a signal event. The payload is
// relayed verbatim, so only its presence is checked.
func decodeSignal(env protocol.Envelope) (json.RawMessage, error) {
	var payload protocol.SignalPayload
	if err := env.Decode(&payload); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(payload.Signal))
	if trimmed == "" || trimmed == "null" {
		return nil, errEmptySignal
	}
	return payload.Signal, nil
}

// decodeChat validates a send-message event and returns the text to post.
// The client-supplied type is ignored: participants can only post text.
func (s *Server) decodeChat(env protocol.Envelope) (string, error) {
	var msg protocol.SendMessage
	if err := env.Decode(&msg); err != nil {
		return "", err
	}
	if err := s.validate.Struct(protocol.SendMessage{Text: strings.TrimSpace(msg.Text)}); err != nil {
		return "", errChatEmptyText
	}
	if len(msg.Text) > s.cfg.MaxChatMessageBytes {
		return "", fmt.Errorf("%w (%d > %d bytes)", errChatTooLong, len(msg.Text), s.cfg.MaxChatMessageBytes)
	}
	return msg.Text, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
