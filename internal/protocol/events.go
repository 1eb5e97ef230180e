package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Event names a message on the participant websocket.
type Event string

const (
	// Client to server.
	EventFindPeer       Event = "find-peer"
	EventSendMessage    Event = "send-message"
	EventDisconnectPeer Event = "disconnect-peer"

	// Server to client.
	EventWaitingForPeer   Event = "waiting-for-peer"
	EventPeerFound        Event = "peer-found"
	EventReceiveMessage   Event = "receive-message"
	EventPeerDisconnected Event = "peer-disconnected"
	EventError            Event = "error"

	// Both directions.
	EventSignal Event = "signal"
)

// TimestampLayout matches the millisecond precision ISO 8601 form browsers
// produce with Date.prototype.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Codes carried in error events.
const (
	ErrorCodeBadMessage    = "bad_message"
	ErrorCodeUnknownEvent  = "unknown_event"
	ErrorCodeInvalidSignal = "invalid_signal"
	ErrorCodeInvalidChat   = "invalid_chat_message"
)

var (
	ErrMissingEvent = errors.New("protocol: missing event")
	ErrTrailingData = errors.New("protocol: unexpected trailing data")
	ErrUnknownEvent = errors.New("protocol: unknown event")
)

// Envelope is the framing for every websocket text message.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data (which may be nil) into an envelope for ev.
func NewEnvelope(ev Event, data any) (Envelope, error) {
	env := Envelope{Event: ev}
	if data == nil {
		return env, nil
	}
	b, err := Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", ev, err)
	}
	env.Data = b
	return env, nil
}

// Marshal encodes v without HTML escaping so SDP and chat text keep their
// characters when relayed.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MustEnvelope is NewEnvelope for payload types that cannot fail to marshal.
func MustEnvelope(ev Event, data any) Envelope {
	env, err := NewEnvelope(ev, data)
	if err != nil {
		panic(err)
	}
	return env
}

// ParseEnvelope decodes a single envelope, rejecting unknown top-level fields
// and trailing data.
func ParseEnvelope(b []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, ErrTrailingData
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// HasData reports whether the envelope carries a non-null payload.
func (e Envelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if !e.HasData() {
		return fmt.Errorf("%s: missing payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// PeerFound is sent to both participants when a session is created.
type PeerFound struct {
	PeerID      string        `json:"peerId"`
	Initiator   bool          `json:"initiator"`
	RoomID      string        `json:"roomId"`
	ChatHistory []ChatMessage `json:"chatHistory"`
}

// SignalPayload carries a negotiation signal. From is set by the server to
// the sender's participant id when relaying.
type SignalPayload struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from,omitempty"`
}

// SendMessage is a chat post from a participant. Type is accepted for
// compatibility with browser clients and ignored.
type SendMessage struct {
	Text string `json:"text" validate:"required"`
	Type string `json:"type,omitempty"`
}

// ChatMessage is the wire form of a chat history entry.
type ChatMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

// Time parses the message timestamp. A malformed timestamp yields the zero time.
func (m ChatMessage) Time() time.Time {
	t, err := time.Parse(TimestampLayout, m.Timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, m.Timestamp)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// ErrorPayload reports a client mistake that did not close the connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Status is the point-in-time snapshot served on GET /status.
type Status struct {
	WaitingUsers      int     `json:"waitingUsers"`
	ActiveConnections int     `json:"activeConnections"`
	TotalRooms        int     `json:"totalRooms"`
	Uptime            float64 `json:"uptime"`
}
