package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/ratelimit"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxChatMessageBytes  = 2000
	DefaultSendQueueSize        = 256
	DefaultMaxMessagesPerSecond = 50
)

// Config wires together the runtime dependencies for the participant socket
// server.
type Config struct {
	Hub     *matchmaking.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Origin  origin.Policy

	// Clock drives the per-connection rate limiter. Nil means wall clock.
	Clock ratelimit.Clock

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	MaxChatMessageBytes  int
	SendQueueSize        int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = ratelimit.RealClock{}
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = min(DefaultPingInterval, c.IdleTimeout/2)
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MaxChatMessageBytes <= 0 {
		c.MaxChatMessageBytes = DefaultMaxChatMessageBytes
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	return c
}

// Server accepts participant WebSocket connections and bridges them to the
// matchmaking hub.
//
// Endpoints:
//   - GET /socket : participant WebSocket
//   - GET /status : {waitingUsers, activeConnections, totalRooms, uptime}
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	validate *validator.Validate

	mu     sync.Mutex
	conns  map[*participantConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		conns:    make(map[*participantConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := cfg.Origin.Check(r.Header.Get("Origin"), r.Host)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /socket", s.handleSocket)
	mux.HandleFunc("GET /status", httpserver.WithOriginPolicy(s.cfg.Origin, s.handleStatus))
	mux.HandleFunc("OPTIONS /status", httpserver.WithOriginPolicy(s.cfg.Origin, s.handleStatus))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Hub.Status(r.Context())
	if err != nil {
		httpserver.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := newParticipantConn(s, ws, matchmaking.ParticipantID(uuid.NewString()))
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)

	if !s.cfg.Hub.Join(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	c.log.Info("participant connected", "remote_addr", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	s.cfg.Hub.Drop(c.id)
	c.close()
	c.log.Info("participant disconnected")
}

func (s *Server) track(c *participantConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *participantConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Connections returns the number of open participant sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting participants, flushes each connection's send
// queue, closes it with 1001 and waits for the handlers to exit or ctx to
// expire. Call it after the hub has stopped so its final notices are queued.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*participantConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.drainAndClose(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.close()
		}
		return ctx.Err()
	}
}

func (s *Server) incMetric(name string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Inc(name)
	}
}
