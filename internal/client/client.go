// Package client is the participant side of the roulette websocket. A Client
// implements negotiation.Transport and delivers server notifications through
// Handlers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

const (
	DefaultSendQueueSize = 64

	writeWait = 1 * time.Second
)

var (
	ErrClosed        = errors.New("client: connection closed")
	ErrSendQueueFull = errors.New("client: send queue full")
)

// Handlers are invoked on the read goroutine, one at a time, in the order the
// server sent the events. Nil handlers are skipped.
type Handlers struct {
	OnWaitingForPeer   func()
	OnPeerFound        func(protocol.PeerFound)
	OnSignal           func(s protocol.Signal, from string)
	OnPeerDisconnected func()
	OnChatMessage      func(protocol.ChatMessage)
	OnServerError      func(protocol.ErrorPayload)
}

type Options struct {
	Handlers Handlers
	Logger   *slog.Logger
	// Header is sent with the upgrade request, e.g. to set Origin.
	Header        http.Header
	SendQueueSize int
	Dialer        *websocket.Dialer
}

type Client struct {
	ws       *websocket.Conn
	log      *slog.Logger
	handlers Handlers

	send chan protocol.Envelope
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

var _ negotiation.Transport = (*Client)(nil)

// Dial connects to the participant endpoint at serverURL and starts the read
// and write pumps.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := opts.SendQueueSize
	if queue <= 0 {
		queue = DefaultSendQueueSize
	}

	ws, resp, err := dialer.DialContext(ctx, serverURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", serverURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", serverURL, err)
	}

	c := &Client{
		ws:       ws,
		log:      logger,
		handlers: opts.Handlers,
		send:     make(chan protocol.Envelope, queue),
		done:     make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) FindPeer() error {
	return c.enqueue(protocol.MustEnvelope(protocol.EventFindPeer, nil))
}

func (c *Client) SendSignal(s protocol.Signal) error {
	raw, err := protocol.Marshal(s)
	if err != nil {
		return err
	}
	return c.enqueue(protocol.MustEnvelope(protocol.EventSignal, protocol.SignalPayload{Signal: raw}))
}

func (c *Client) Leave() error {
	return c.enqueue(protocol.MustEnvelope(protocol.EventDisconnectPeer, nil))
}

// SendChat posts a text message to the current session.
func (c *Client) SendChat(text string) error {
	return c.enqueue(protocol.MustEnvelope(protocol.EventSendMessage, protocol.SendMessage{
		Text: text,
		Type: "text",
	}))
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is open or
// after a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a normal closure frame and releases the socket.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.close(nil)
	return nil
}

func (c *Client) enqueue(env protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) readPump() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("server closed connection", "err", err)
			} else {
				c.log.Warn("connection lost", "err", err)
			}
			c.close(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.log.Warn("dropping malformed server message", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	h := c.handlers
	switch env.Event {
	case protocol.EventWaitingForPeer:
		if h.OnWaitingForPeer != nil {
			h.OnWaitingForPeer()
		}
	case protocol.EventPeerFound:
		var pf protocol.PeerFound
		if err := env.Decode(&pf); err != nil {
			c.log.Warn("dropping malformed peer-found", "err", err)
			return
		}
		if h.OnPeerFound != nil {
			h.OnPeerFound(pf)
		}
	case protocol.EventSignal:
		var payload protocol.SignalPayload
		if err := env.Decode(&payload); err != nil {
			c.log.Warn("dropping malformed signal", "err", err)
			return
		}
		s, err := protocol.ParseSignal(payload.Signal)
		if err != nil {
			c.log.Warn("dropping invalid signal", "from", payload.From, "err", err)
			return
		}
		if h.OnSignal != nil {
			h.OnSignal(s, payload.From)
		}
	case protocol.EventPeerDisconnected:
		if h.OnPeerDisconnected != nil {
			h.OnPeerDisconnected()
		}
	case protocol.EventReceiveMessage:
		var msg protocol.ChatMessage
		if err := env.Decode(&msg); err != nil {
			c.log.Warn("dropping malformed chat message", "err", err)
			return
		}
		if h.OnChatMessage != nil {
			h.OnChatMessage(msg)
		}
	case protocol.EventError:
		var payload protocol.ErrorPayload
		if err := env.Decode(&payload); err != nil {
			c.log.Warn("dropping malformed error event", "err", err)
			return
		}
		if h.OnServerError != nil {
			h.OnServerError(payload)
		}
	default:
		c.log.Debug("ignoring unknown event", "event", env.Event)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case env := <-c.send:
			data, err := protocol.Marshal(env)
			if err != nil {
				c.log.Error("failed to encode envelope", "event", env.Event, "err", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close(fmt.Errorf("write %s: %w", env.Event, err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) close(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}
