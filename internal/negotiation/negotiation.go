// Package negotiation drives one participant's side of the WebRTC handshake.
//
// A Machine owns at most one call at a time. Everything that can change its
// state (server notifications, relayed signals, capability callbacks and the
// stats timer) is delivered as a message and handled on the Run goroutine.
package negotiation

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

type State int32

const (
	StateIdle State = iota
	StateSearching
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionState mirrors the peer connection states the machine reacts to.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the call cannot recover from this state.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionDisconnected || s == ConnectionFailed || s == ConnectionClosed
}

// Track describes an incoming remote media track.
type Track struct {
	ID   string
	Kind string
}

// Capability is the environment's peer connection for one call.
//
// CreateOffer and CreateAnswer also apply the result as the local
// description.
type Capability interface {
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetRemoteDescription(desc protocol.SessionDescription) error
	AddICECandidate(c protocol.ICECandidate) error
	Close() error
}

// Hooks are installed on a Capability when it is created. They may be called
// from any goroutine.
type Hooks struct {
	OnLocalCandidate  func(protocol.ICECandidate)
	OnRemoteTrack     func(Track)
	OnConnectionState func(ConnectionState)
}

// Factory builds a fresh Capability for a new call.
type Factory func(Hooks) (Capability, error)

// OutboundStats is a sample of the outbound video stream.
type OutboundStats struct {
	BytesSent uint64
	// FractionLost is the remote receiver's reported loss, in [0, 1].
	FractionLost float64
	Timestamp    time.Time
}

// BitrateController is implemented by capabilities that can report outbound
// statistics and cap the encoder.
type BitrateController interface {
	OutboundStats() (OutboundStats, error)
	SetMaxBitrate(bps uint64) error
}

// Transport carries the machine's requests to the server. It is the session
// context handed to the machine at construction.
type Transport interface {
	FindPeer() error
	SendSignal(s protocol.Signal) error
	Leave() error
}

// Ticker is the stats timer. Stop is called exactly once per call.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}
