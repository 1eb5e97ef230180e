package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

type closeFrame struct {
	code   int
	reason string
}

// participantConn is one participant's socket. The read pump runs on the
// HTTP handler goroutine and the write pump owns all data frame writes.
type participantConn struct {
	srv     *Server
	ws      *websocket.Conn
	id      matchmaking.ParticipantID
	log     *slog.Logger
	limiter *ratelimit.MessageLimiter

	send    chan protocol.Envelope
	drain   chan closeFrame
	done    chan struct{}
	once    sync.Once
	drainMu sync.Once
}

func newParticipantConn(srv *Server, ws *websocket.Conn, id matchmaking.ParticipantID) *participantConn {
	return &participantConn{
		srv:     srv,
		ws:      ws,
		id:      id,
		log:     srv.log.With("participant", id),
		limiter: ratelimit.NewMessageLimiter(srv.cfg.Clock, srv.cfg.MaxMessagesPerSecond),
		send:    make(chan protocol.Envelope, srv.cfg.SendQueueSize),
		drain:   make(chan closeFrame, 1),
		done:    make(chan struct{}),
	}
}

func (c *participantConn) ID() matchmaking.ParticipantID {
	return c.id
}

// Send queues env for the write pump. A participant that cannot keep up is
// disconnected rather than allowed to stall the hub.
func (c *participantConn) Send(env protocol.Envelope) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- env:
	default:
		c.srv.incMetric(metrics.SendQueueOverflow)
		c.log.Warn("send queue full; closing participant", "queue", cap(c.send))
		go c.closeWith(websocket.CloseTryAgainLater, "send queue full")
	}
}

func (c *participantConn) readPump() {
	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009.
				c.srv.incMetric(metrics.MessageTooLarge)
				c.log.Debug("message too large", "limit", cfg.MaxMessageBytes)
			case isTimeout(err):
				c.log.Debug("participant idle timeout")
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Debug("read failed", "err", err)
			}
			return
		}
		c.extendReadDeadline()

		// The message is read before the limiter is consulted so the close
		// frame is not lost to a reset from unread data.
		if !c.limiter.Allow() {
			c.srv.incMetric(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.reject(ErrorCodeBadMessage, "expected text message")
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.reject(ErrorCodeBadMessage, err.Error())
			continue
		}
		c.dispatch(env)
	}
}

func (c *participantConn) dispatch(env protocol.Envelope) {
	hub := c.srv.cfg.Hub
	switch env.Event {
	case protocol.EventFindPeer:
		hub.FindPeer(c.id)
	case protocol.EventDisconnectPeer:
		hub.Leave(c.id)
	case protocol.EventSignal:
		payload, err := decodeSignal(env)
		if err != nil {
			c.reject(ErrorCodeInvalidSignal, err.Error())
			return
		}
		hub.Signal(c.id, payload)
	case protocol.EventSendMessage:
		text, err := c.srv.decodeChat(env)
		if err != nil {
			c.reject(ErrorCodeInvalidChat, err.Error())
			return
		}
		hub.SendMessage(c.id, text)
	default:
		c.reject(ErrorCodeUnknownEvent, "unknown event "+string(env.Event))
	}
}

// reject reports a client mistake and keeps the connection open.
func (c *participantConn) reject(code, message string) {
	c.srv.incMetric(metrics.InvalidMessage)
	c.log.Debug("rejected participant message", "code", code, "message", message)
	c.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

func (c *participantConn) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.close()
				return
			}
		case frame := <-c.drain:
			c.flush()
			c.closeWith(frame.code, frame.reason)
			return
		case <-c.done:
			return
		}
	}
}

// flush writes whatever is already queued.
func (c *participantConn) flush() {
	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *participantConn) write(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		c.log.Error("failed to encode envelope", "event", env.Event, "err", err)
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// drainAndClose asks the write pump to flush the queue and then close.
func (c *participantConn) drainAndClose(code int, reason string) {
	c.drainMu.Do(func() {
		c.drain <- closeFrame{code: code, reason: reason}
	})
}

func (c *participantConn) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.IdleTimeout))
}

func (c *participantConn) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.close()
}

func (c *participantConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
