package client

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/chat"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

const (
	// LocalIDPrefix marks optimistic echoes that have not been confirmed by
	// the server.
	LocalIDPrefix = "local-"
	// LocalSender is the sender of optimistic echoes.
	LocalSender = "me"

	echoWindow = 5 * time.Second
)

// ChatLog is the participant's view of the current session's chat. The
// server may deliver a message more than once (history on pairing plus the
// live broadcast) and confirms the participant's own posts, so messages are
// de-duplicated by id and server copies replace matching local echoes.
type ChatLog struct {
	mu      sync.Mutex
	limit   int
	partner string
	entries []protocol.ChatMessage
	now     func() time.Time
}

func NewChatLog(limit int) *ChatLog {
	if limit <= 0 {
		limit = chat.DefaultHistoryLimit
	}
	return &ChatLog{limit: limit, now: time.Now}
}

// Reset starts the log for a new session with the partner's id and the
// history sent in peer-found.
func (l *ChatLog) Reset(partner string, history []protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partner = partner
	l.entries = nil
	for _, msg := range history {
		l.add(msg)
	}
}

// AddLocal records text posted by this participant before the server has
// confirmed it.
func (l *ChatLog) AddLocal(text string) protocol.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := protocol.ChatMessage{
		ID:        LocalIDPrefix + uuid.NewString(),
		From:      LocalSender,
		Text:      text,
		Timestamp: l.now().UTC().Format(protocol.TimestampLayout),
		Type:      string(chat.KindText),
	}
	l.append(msg)
	return msg
}

// DropLocal removes the newest unconfirmed echo, for when the server rejects
// the post. It reports whether one was found.
func (l *ChatLog) DropLocal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, idx, found := lo.FindLastIndexOf(l.entries, func(m protocol.ChatMessage) bool {
		return strings.HasPrefix(m.ID, LocalIDPrefix)
	})
	if !found {
		return false
	}
	l.entries = append(l.entries[:idx:idx], l.entries[idx+1:]...)
	return true
}

// Add records a message from the server. It reports whether the message is
// new; duplicates and confirmations of local echoes return false.
func (l *ChatLog) Add(msg protocol.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.add(msg)
}

func (l *ChatLog) add(msg protocol.ChatMessage) bool {
	if lo.ContainsBy(l.entries, func(m protocol.ChatMessage) bool { return m.ID == msg.ID }) {
		return false
	}
	if l.own(msg) {
		at := l.timeOf(msg)
		_, idx, found := lo.FindIndexOf(l.entries, func(m protocol.ChatMessage) bool {
			return strings.HasPrefix(m.ID, LocalIDPrefix) && m.Text == msg.Text && within(l.timeOf(m), at, echoWindow)
		})
		if found {
			l.entries[idx] = msg
			return false
		}
	}
	l.append(msg)
	return true
}

// Messages returns the log oldest first.
func (l *ChatLog) Messages() []protocol.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ChatMessage(nil), l.entries...)
}

// Partner returns the partner id of the current session.
func (l *ChatLog) Partner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.partner
}

// Own reports whether msg was posted by this participant.
func (l *ChatLog) Own(msg protocol.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.own(msg)
}

func (l *ChatLog) own(msg protocol.ChatMessage) bool {
	if msg.From == LocalSender {
		return true
	}
	return msg.From != l.partner && msg.From != chat.SystemSender && msg.Type != string(chat.KindSystem)
}

func (l *ChatLog) append(msg protocol.ChatMessage) {
	l.entries = append(l.entries, msg)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

func (l *ChatLog) timeOf(msg protocol.ChatMessage) time.Time {
	if t := msg.Time(); !t.IsZero() {
		return t
	}
	return l.now()
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	return d <= window && d >= -window
}
