package chat

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

// DefaultHistoryLimit is the number of messages kept per room.
const DefaultHistoryLimit = 100

// SystemSender is the reserved sender of server generated messages.
const SystemSender = "system"

type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

type Message struct {
	ID        string
	From      string
	Text      string
	Timestamp time.Time
	Kind      Kind
}

func NewTextMessage(from, text string, now time.Time) Message {
	return Message{ID: NewMessageID(now), From: from, Text: text, Timestamp: now, Kind: KindText}
}

func NewSystemMessage(text string, now time.Time) Message {
	return Message{ID: NewMessageID(now), From: SystemSender, Text: text, Timestamp: now, Kind: KindSystem}
}

// Wire converts the message to its receive-message payload.
func (m Message) Wire() protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        m.ID,
		From:      m.From,
		Text:      m.Text,
		Timestamp: m.Timestamp.UTC().Format(protocol.TimestampLayout),
		Type:      string(m.Kind),
	}
}

// Store holds the bounded message history of every open room.
//
// Store is not safe for concurrent use; it is owned by the matchmaking event
// loop.
type Store struct {
	limit int
	rooms map[string][]Message
}

// NewStore returns a store keeping at most limit messages per room. A limit
// <= 0 selects DefaultHistoryLimit.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		limit: limit,
		rooms: make(map[string][]Message),
	}
}

// Open creates an empty history for room, discarding any previous one.
func (s *Store) Open(room string) {
	s.rooms[room] = make([]Message, 0, 8)
}

func (s *Store) Exists(room string) bool {
	_, ok := s.rooms[room]
	return ok
}

// Append adds m to the room's history, evicting the oldest entries beyond the
// limit. It reports false when the room does not exist.
func (s *Store) Append(room string, m Message) bool {
	msgs, ok := s.rooms[room]
	if !ok {
		return false
	}
	msgs = append(msgs, m)
	if over := len(msgs) - s.limit; over > 0 {
		msgs = msgs[over:]
	}
	s.rooms[room] = msgs
	return true
}

// History returns a copy of the room's messages, oldest first. A missing room
// yields nil.
func (s *Store) History(room string) []Message {
	msgs, ok := s.rooms[room]
	if !ok {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// WireHistory is History converted to wire messages. It never returns nil so
// the result always encodes as a JSON array.
func (s *Store) WireHistory(room string) []protocol.ChatMessage {
	msgs := s.rooms[room]
	out := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire())
	}
	return out
}

// Delete drops the room's history and reports whether it existed.
func (s *Store) Delete(room string) bool {
	if _, ok := s.rooms[room]; !ok {
		return false
	}
	delete(s.rooms, room)
	return true
}

// Rooms returns the ids of all open rooms in no particular order.
func (s *Store) Rooms() []string {
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

func (s *Store) Len() int {
	return len(s.rooms)
}

func (s *Store) Reset() {
	clear(s.rooms)
}
