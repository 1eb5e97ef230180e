package negotiation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

const DefaultStatsInterval = 5 * time.Second

type Options struct {
	Transport Transport
	Factory   Factory
	Logger    *slog.Logger

	StatsInterval time.Duration
	Bitrate       BitratePolicy
	// NewTicker creates the stats timer. Nil means NewTimeTicker.
	NewTicker func(time.Duration) Ticker

	// OnStateChange is called on the Run goroutine after every transition.
	OnStateChange func(from, to State)
	// OnRemoteTrack is called on the Run goroutine for each track of the
	// current call.
	OnRemoteTrack func(Track)
	// OnStats is called on the Run goroutine after each stats sample.
	OnStats func(OutboundStats, uint64)
	// OnError is called on the Run goroutine when a call is abandoned.
	OnError func(error)
}

type msgKind int

const (
	msgFindPeer msgKind = iota
	msgPeerFound
	msgSignal
	msgPeerDisconnected
	msgEndCall
	msgLocalCandidate
	msgRemoteTrack
	msgConnectionState
)

type message struct {
	kind msgKind
	gen  uint64

	initiator bool
	roomID    string
	signal    protocol.Signal
	candidate protocol.ICECandidate
	track     Track
	connState ConnectionState
}

// call is the state of one negotiation. A new call is created for every
// pairing and never reused.
type call struct {
	gen       uint64
	roomID    string
	initiator bool
	cap       Capability

	remoteSet bool
	pending   []protocol.ICECandidate

	ticker  Ticker
	bitrate uint64
}

type Machine struct {
	opts Options
	log  *slog.Logger

	inbox chan message
	done  chan struct{}
	state atomic.Int32

	// Owned by Run.
	gen  uint64
	call *call
}

func New(opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	opts.Bitrate = opts.Bitrate.withDefaults()
	return &Machine{
		opts:  opts,
		log:   opts.Logger,
		inbox: make(chan message, 64),
		done:  make(chan struct{}),
	}
}

// State returns the current state. It may be called from any goroutine.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Done is closed once Run has returned.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Run handles messages until ctx is cancelled, then tears down any call.
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)
	for {
		var tick <-chan time.Time
		if m.call != nil && m.call.ticker != nil {
			tick = m.call.ticker.C()
		}
		select {
		case <-ctx.Done():
			m.teardown()
			m.setState(StateIdle)
			return
		case msg := <-m.inbox:
			m.handle(msg)
		case <-tick:
			m.sampleStats()
		}
	}
}

// FindPeer asks the server for a partner.
func (m *Machine) FindPeer() error {
	return m.submit(message{kind: msgFindPeer})
}

// PeerFound starts a new call.
func (m *Machine) PeerFound(initiator bool, roomID string) error {
	return m.submit(message{kind: msgPeerFound, initiator: initiator, roomID: roomID})
}

// Signal delivers a signal relayed from the partner.
func (m *Machine) Signal(s protocol.Signal) error {
	return m.submit(message{kind: msgSignal, signal: s})
}

// PeerDisconnected ends the call because the partner left.
func (m *Machine) PeerDisconnected() error {
	return m.submit(message{kind: msgPeerDisconnected})
}

// EndCall leaves the session and ends the call.
func (m *Machine) EndCall() error {
	return m.submit(message{kind: msgEndCall})
}

func (m *Machine) submit(msg message) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.inbox <- msg:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

func (m *Machine) hooks(gen uint64) Hooks {
	post := func(msg message) {
		msg.gen = gen
		_ = m.submit(msg)
	}
	return Hooks{
		OnLocalCandidate: func(c protocol.ICECandidate) {
			post(message{kind: msgLocalCandidate, candidate: c})
		},
		OnRemoteTrack: func(t Track) {
			post(message{kind: msgRemoteTrack, track: t})
		},
		OnConnectionState: func(s ConnectionState) {
			post(message{kind: msgConnectionState, connState: s})
		},
	}
}

func (m *Machine) handle(msg message) {
	switch msg.kind {
	case msgFindPeer:
		m.teardown()
		m.setState(StateSearching)
		if err := m.opts.Transport.FindPeer(); err != nil {
			m.report(opError("find peer", err))
			m.setState(StateIdle)
		}
	case msgPeerFound:
		m.startCall(msg.initiator, msg.roomID)
	case msgSignal:
		if m.call == nil {
			m.log.Debug("dropping stale signal", "kind", msg.signal.Kind)
			return
		}
		if err := msg.signal.Validate(); err != nil {
			m.log.Warn("dropping invalid signal", "err", err)
			return
		}
		if err := m.applySignal(msg.signal); err != nil {
			m.abandon(err)
		}
	case msgPeerDisconnected:
		m.teardown()
		m.setState(StateIdle)
	case msgEndCall:
		m.teardown()
		m.setState(StateIdle)
		if err := m.opts.Transport.Leave(); err != nil {
			m.report(opError("leave", err))
		}
	case msgLocalCandidate:
		if !m.current(msg.gen) {
			return
		}
		if err := m.opts.Transport.SendSignal(protocol.Candidate(msg.candidate)); err != nil {
			m.abandon(opError("send candidate", err))
		}
	case msgRemoteTrack:
		if !m.current(msg.gen) {
			return
		}
		if m.opts.OnRemoteTrack != nil {
			m.opts.OnRemoteTrack(msg.track)
		}
		if m.State() == StateConnecting {
			m.setState(StateConnected)
			m.startStats()
		}
	case msgConnectionState:
		if !m.current(msg.gen) {
			return
		}
		m.log.Debug("connection state", "room", m.call.roomID, "state", msg.connState)
		if msg.connState.Terminal() {
			m.teardown()
			m.setState(StateIdle)
		}
	}
}

// current reports whether a capability callback belongs to the live call.
func (m *Machine) current(gen uint64) bool {
	return m.call != nil && m.call.gen == gen
}

func (m *Machine) startCall(initiator bool, roomID string) {
	m.teardown()
	m.gen++
	gen := m.gen

	capability, err := m.opts.Factory(m.hooks(gen))
	if err == nil && capability == nil {
		err = ErrNoCapability
	}
	if err != nil {
		m.setState(StateConnecting)
		m.abandon(opError("create capability", err))
		return
	}
	m.call = &call{
		gen:       gen,
		roomID:    roomID,
		initiator: initiator,
		cap:       capability,
		bitrate:   m.opts.Bitrate.Max,
	}
	m.setState(StateConnecting)
	m.log.Info("call started", "room", roomID, "initiator", initiator)

	if !initiator {
		return
	}
	offer, err := capability.CreateOffer()
	if err != nil {
		m.abandon(opError("create offer", err))
		return
	}
	if err := m.opts.Transport.SendSignal(protocol.Offer(offer.SDP)); err != nil {
		m.abandon(opError("send offer", err))
	}
}

func (m *Machine) applySignal(s protocol.Signal) error {
	c := m.call
	switch s.Kind {
	case protocol.SignalOffer:
		if err := m.setRemote(s.Description); err != nil {
			return err
		}
		answer, err := c.cap.CreateAnswer()
		if err != nil {
			return opError("create answer", err)
		}
		return opError("send answer", m.opts.Transport.SendSignal(protocol.Answer(answer.SDP)))
	case protocol.SignalAnswer:
		return m.setRemote(s.Description)
	case protocol.SignalCandidate:
		if !c.remoteSet {
			c.pending = append(c.pending, s.Candidate)
			return nil
		}
		m.addCandidate(s.Candidate)
		return nil
	default:
		m.log.Debug("ignoring signal", "kind", s.Kind)
		return nil
	}
}

// setRemote applies desc and then flushes buffered candidates in arrival
// order.
func (m *Machine) setRemote(desc protocol.SessionDescription) error {
	c := m.call
	if err := c.cap.SetRemoteDescription(desc); err != nil {
		return opError("set remote description", err)
	}
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	for _, cand := range pending {
		m.addCandidate(cand)
	}
	return nil
}

// addCandidate failures are not fatal: the remaining candidates may still
// produce a working pair.
func (m *Machine) addCandidate(cand protocol.ICECandidate) {
	if err := m.call.cap.AddICECandidate(cand); err != nil {
		m.log.Warn("failed to add ICE candidate", "room", m.call.roomID, "err", err)
	}
}

func (m *Machine) startStats() {
	c := m.call
	ctrl, ok := c.cap.(BitrateController)
	if !ok {
		return
	}
	if err := ctrl.SetMaxBitrate(c.bitrate); err != nil {
		m.log.Warn("failed to set max bitrate", "bps", c.bitrate, "err", err)
	}
	c.ticker = m.opts.NewTicker(m.opts.StatsInterval)
}

func (m *Machine) sampleStats() {
	c := m.call
	ctrl, ok := c.cap.(BitrateController)
	if !ok {
		return
	}
	stats, err := ctrl.OutboundStats()
	if err != nil {
		m.log.Debug("failed to read outbound stats", "err", err)
		return
	}
	next := m.opts.Bitrate.Next(c.bitrate, stats.FractionLost)
	if next != c.bitrate {
		if err := ctrl.SetMaxBitrate(next); err != nil {
			m.log.Warn("failed to set max bitrate", "bps", next, "err", err)
		} else {
			m.log.Debug("adjusted max bitrate", "from", c.bitrate, "to", next, "fraction_lost", stats.FractionLost)
			c.bitrate = next
		}
	}
	if m.opts.OnStats != nil {
		m.opts.OnStats(stats, c.bitrate)
	}
}

// abandon ends a call whose negotiation failed and tells the server.
func (m *Machine) abandon(err error) {
	m.report(err)
	m.teardown()
	m.setState(StateIdle)
	if leaveErr := m.opts.Transport.Leave(); leaveErr != nil {
		m.report(opError("leave", leaveErr))
	}
}

func (m *Machine) report(err error) {
	m.log.Warn("negotiation failed", "err", err)
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

// teardown releases the current call. It is a no-op without one, so the
// stats timer is stopped exactly once.
func (m *Machine) teardown() {
	c := m.call
	if c == nil {
		return
	}
	m.call = nil
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.pending = nil
	if err := c.cap.Close(); err != nil {
		m.log.Debug("failed to close capability", "room", c.roomID, "err", err)
	}
	m.log.Info("call ended", "room", c.roomID)
}

func (m *Machine) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, to)
	}
}
