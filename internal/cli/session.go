package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

// chatConn is the part of client.Client a session uses.
type chatConn interface {
	negotiation.Transport
	SendChat(text string) error
}

// session connects the websocket client, the negotiation machine and the chat
// log to the terminal. conn and machine are set before either starts
// delivering events.
type session struct {
	conn    chatConn
	machine *negotiation.Machine
	chat    *client.ChatLog

	mu  sync.Mutex
	out io.Writer
}

func newSession(out io.Writer) *session {
	return &session{out: out, chat: client.NewChatLog(0)}
}

func (s *session) FindPeer() error {
	return s.conn.FindPeer()
}

func (s *session) SendSignal(sig protocol.Signal) error {
	return s.conn.SendSignal(sig)
}

func (s *session) Leave() error {
	return s.conn.Leave()
}

func (s *session) handlers() client.Handlers {
	return client.Handlers{
		OnWaitingForPeer: func() {
			s.print(func(w io.Writer) { printMuted(w, "waiting for a partner...") })
		},
		OnPeerFound: func(pf protocol.PeerFound) {
			s.chat.Reset(pf.PeerID, pf.ChatHistory)
			s.print(func(w io.Writer) {
				printSuccess(w, fmt.Sprintf("paired in %s", TitleStyle.Render(pf.RoomID)))
				for _, m := range s.chat.Messages() {
					fmt.Fprintln(w, formatChat(m, s.chat.Own(m)))
				}
			})
			_ = s.machine.PeerFound(pf.Initiator, pf.RoomID)
		},
		OnSignal: func(sig protocol.Signal, _ string) {
			_ = s.machine.Signal(sig)
		},
		OnPeerDisconnected: func() {
			s.chat.Reset("", nil)
			s.print(func(w io.Writer) { printWarning(w, "partner left; /next to find another") })
			_ = s.machine.PeerDisconnected()
		},
		OnChatMessage: func(m protocol.ChatMessage) {
			if !s.chat.Add(m) {
				return
			}
			own := s.chat.Own(m)
			s.print(func(w io.Writer) { fmt.Fprintln(w, formatChat(m, own)) })
		},
		OnServerError: func(e protocol.ErrorPayload) {
			if e.Code == protocol.ErrorCodeInvalidChat {
				s.chat.DropLocal()
			}
			s.print(func(w io.Writer) { printError(w, fmt.Sprintf("%s: %s", e.Code, e.Message)) })
		},
	}
}

// handleLine acts on one line of input and reports whether to quit.
func (s *session) handleLine(line string) bool {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/next":
		s.chat.Reset("", nil)
		if err := s.machine.FindPeer(); err != nil {
			s.print(func(w io.Writer) { printError(w, err.Error()) })
		}
		return false
	case "/leave":
		s.chat.Reset("", nil)
		if err := s.machine.EndCall(); err != nil {
			s.print(func(w io.Writer) { printError(w, err.Error()) })
		}
		return false
	}
	if strings.HasPrefix(line, "/") {
		s.print(func(w io.Writer) { printWarning(w, "unknown command "+line) })
		return false
	}

	if s.chat.Partner() == "" {
		s.print(func(w io.Writer) { printWarning(w, "not in a call; /next to find a partner") })
		return false
	}
	if len(line) > config.DefaultMaxChatMessageBytes {
		s.print(func(w io.Writer) {
			printWarning(w, fmt.Sprintf("message too long (%d > %d bytes)", len(line), config.DefaultMaxChatMessageBytes))
		})
		return false
	}
	echo := s.chat.AddLocal(line)
	if err := s.conn.SendChat(line); err != nil {
		s.chat.DropLocal()
		s.print(func(w io.Writer) { printError(w, err.Error()) })
		return false
	}
	s.print(func(w io.Writer) { fmt.Fprintln(w, formatChat(echo, true)) })
	return false
}

func (s *session) onStateChange(from, to negotiation.State) {
	s.print(func(w io.Writer) { printMuted(w, fmt.Sprintf("call %s -> %s", from, to)) })
}

func (s *session) onRemoteTrack(t negotiation.Track) {
	s.print(func(w io.Writer) { printMuted(w, fmt.Sprintf("receiving %s", t.Kind)) })
}

func (s *session) onStats(st negotiation.OutboundStats, bps uint64) {
	s.print(func(w io.Writer) {
		printMuted(w, fmt.Sprintf("sent %d bytes, loss %.1f%%, cap %d kbps", st.BytesSent, st.FractionLost*100, bps/1000))
	})
}

func (s *session) onError(err error) {
	s.print(func(w io.Writer) { printError(w, err.Error()) })
}

func (s *session) print(fn func(w io.Writer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.out)
}
