package matchmaking

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/chat"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

// ShutdownNotice is posted into every active room when the service shuts down.
const ShutdownNotice = "server shutting down"

// Peer is the outbound half of a participant's transport channel.
type Peer interface {
	ID() ParticipantID
	// Send hands env to the transport. It must not block; delivery to a
	// closed or congested channel is dropped.
	Send(env protocol.Envelope)
}

type State int

const (
	StateIdle State = iota
	StateWaiting
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

type Options struct {
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Now              func() time.Time
	ChatHistoryLimit int
}

// Service owns the waiting pool, the session registry and the chat store.
//
// Service is not safe for concurrent use. Hub serializes every call onto a
// single goroutine.
type Service struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	started time.Time

	peers    map[ParticipantID]Peer
	pool     *WaitingPool
	registry *Registry
	chat     *chat.Store

	activeRooms int
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		started:  opts.Now(),
		peers:    make(map[ParticipantID]Peer),
		pool:     NewWaitingPool(),
		registry: NewRegistry(),
		chat:     chat.NewStore(opts.ChatHistoryLimit),
	}
}

// Join registers a newly connected participant in the idle state. It reports
// false if the id is already connected.
func (s *Service) Join(p Peer) bool {
	id := p.ID()
	if _, ok := s.peers[id]; ok {
		return false
	}
	s.peers[id] = p
	s.metrics.Inc(metrics.ParticipantConnected)
	s.publishGauges()
	return true
}

func (s *Service) State(id ParticipantID) State {
	if s.pool.Contains(id) {
		return StateWaiting
	}
	if _, ok := s.registry.LookupPartner(id); ok {
		return StatePaired
	}
	return StateIdle
}

// Partner returns id's current partner.
func (s *Service) Partner(id ParticipantID) (ParticipantID, bool) {
	return s.registry.LookupPartner(id)
}

// Session returns id's current session.
func (s *Service) Session(id ParticipantID) (Session, bool) {
	return s.registry.Lookup(id)
}

// History returns the chat history of id's current session.
func (s *Service) History(id ParticipantID) ([]chat.Message, bool) {
	sess, ok := s.registry.Lookup(id)
	if !ok {
		return nil, false
	}
	return s.chat.History(sess.ID.String()), true
}

// RequestPairing pairs id with the earliest waiting participant, or enqueues
// it when nobody is waiting. A participant that is already paired leaves its
// current session first.
func (s *Service) RequestPairing(id ParticipantID) {
	if _, ok := s.peers[id]; !ok {
		return
	}
	s.metrics.Inc(metrics.PairingRequested)

	if _, paired := s.registry.LookupPartner(id); paired {
		s.metrics.Inc(metrics.ImplicitLeave)
		s.Disconnect(id)
	}
	s.pool.Remove(id)

	partner, ok := s.pool.PopHead()
	if !ok {
		s.pool.Enqueue(id)
		s.metrics.Inc(metrics.PairingEnqueued)
		s.log.Debug("participant waiting", "participant", id, "waiting", s.pool.Len())
		s.send(id, protocol.MustEnvelope(protocol.EventWaitingForPeer, nil))
		s.publishGauges()
		return
	}

	sess, err := s.registry.Create(id, partner, s.now())
	if err != nil {
		// Pool and registry are disjoint, so this means a bookkeeping bug.
		s.log.Error("failed to create session", "initiator", id, "responder", partner, "err", err)
		s.pool.Enqueue(partner)
		s.publishGauges()
		return
	}
	room := sess.ID.String()
	s.chat.Open(room)
	s.activeRooms++
	s.metrics.Inc(metrics.SessionCreated)
	s.log.Info("session created", "room", room, "initiator", id, "responder", partner)

	history := s.chat.WireHistory(room)
	s.send(id, protocol.MustEnvelope(protocol.EventPeerFound, protocol.PeerFound{
		PeerID:      string(partner),
		Initiator:   true,
		RoomID:      room,
		ChatHistory: history,
	}))
	s.send(partner, protocol.MustEnvelope(protocol.EventPeerFound, protocol.PeerFound{
		PeerID:      string(id),
		Initiator:   false,
		RoomID:      room,
		ChatHistory: history,
	}))
	s.publishGauges()
}

// Relay forwards payload verbatim to sender's partner. It reports false and
// drops the payload when sender has no partner.
func (s *Service) Relay(sender ParticipantID, payload json.RawMessage) bool {
	partner, ok := s.registry.LookupPartner(sender)
	if !ok {
		s.metrics.Inc(metrics.SignalDroppedStale)
		s.log.Debug("dropping stale signal", "participant", sender)
		return false
	}
	s.metrics.Inc(metrics.SignalRelayedKind(string(protocol.PeekSignalKind(payload))))
	s.send(partner, protocol.MustEnvelope(protocol.EventSignal, protocol.SignalPayload{
		Signal: payload,
		From:   string(sender),
	}))
	return true
}

// PostMessage appends a text message to sender's session history and
// broadcasts it to both participants. It reports false and drops the message
// when sender has no session.
func (s *Service) PostMessage(sender ParticipantID, text string) (chat.Message, bool) {
	sess, ok := s.registry.Lookup(sender)
	if !ok {
		s.metrics.Inc(metrics.ChatDroppedStale)
		s.log.Debug("dropping stale chat message", "participant", sender)
		return chat.Message{}, false
	}
	msg := chat.NewTextMessage(string(sender), text, s.now())
	s.broadcast(sess, msg)
	s.metrics.Inc(metrics.ChatPosted)
	return msg, true
}

// PostSystemMessage appends a system message to the session's history and
// broadcasts it to both participants.
func (s *Service) PostSystemMessage(id SessionID, text string) (chat.Message, bool) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return chat.Message{}, false
	}
	msg := chat.NewSystemMessage(text, s.now())
	s.broadcast(sess, msg)
	s.metrics.Inc(metrics.SystemMessagePosted)
	return msg, true
}

func (s *Service) broadcast(sess Session, msg chat.Message) {
	s.chat.Append(sess.ID.String(), msg)
	env := protocol.MustEnvelope(protocol.EventReceiveMessage, msg.Wire())
	s.send(sess.Initiator, env)
	s.send(sess.Responder, env)
}

// Disconnect is the single cleanup path for explicit leave and transport
// loss. It removes id from the waiting pool and tears down its session,
// notifying only the partner. It is idempotent and reports whether a session
// was torn down.
func (s *Service) Disconnect(id ParticipantID) bool {
	s.pool.Remove(id)

	sess, ok := s.registry.Remove(id)
	if !ok {
		s.publishGauges()
		return false
	}
	room := sess.ID.String()
	s.chat.Delete(room)
	if s.activeRooms > 0 {
		s.activeRooms--
	}
	s.metrics.Inc(metrics.SessionTornDown)

	partner, _ := sess.Partner(id)
	s.log.Info("session torn down", "room", room, "participant", id, "partner", partner,
		"duration_ms", s.now().Sub(sess.CreatedAt).Milliseconds())
	s.send(partner, protocol.MustEnvelope(protocol.EventPeerDisconnected, nil))
	s.publishGauges()
	return true
}

// Remove handles transport loss: it runs Disconnect and forgets the
// participant's channel.
func (s *Service) Remove(id ParticipantID) {
	if _, ok := s.peers[id]; !ok {
		return
	}
	s.Disconnect(id)
	delete(s.peers, id)
	s.metrics.Inc(metrics.ParticipantDisconnected)
	s.publishGauges()
}

// Status returns the operational snapshot served on GET /status.
func (s *Service) Status() protocol.Status {
	return protocol.Status{
		WaitingUsers:      s.pool.Len(),
		ActiveConnections: s.registry.Participants(),
		TotalRooms:        s.activeRooms,
		Uptime:            s.now().Sub(s.started).Seconds(),
	}
}

// Shutdown posts a system notice into every active room and then clears all
// state. Participant channels are left to the transport to close.
func (s *Service) Shutdown() {
	s.log.Info("clearing matchmaking state",
		"waiting", s.pool.Snapshot(),
		"rooms", s.chat.Rooms(),
	)
	for _, sess := range s.registry.Sessions() {
		s.PostSystemMessage(sess.ID, ShutdownNotice)
	}
	s.pool.Reset()
	s.registry.Reset()
	s.chat.Reset()
	clear(s.peers)
	s.activeRooms = 0
	s.publishGauges()
}

func (s *Service) send(id ParticipantID, env protocol.Envelope) {
	p, ok := s.peers[id]
	if !ok {
		return
	}
	p.Send(env)
}

func (s *Service) publishGauges() {
	s.metrics.SetGauge(metrics.GaugeWaitingParticipants, int64(s.pool.Len()))
	s.metrics.SetGauge(metrics.GaugeActiveSessions, int64(s.activeRooms))
	s.metrics.SetGauge(metrics.GaugeConnectedClients, int64(len(s.peers)))
}
