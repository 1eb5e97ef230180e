package metrics

import (
	"maps"
	"sync"
)

// Event counter names.
const (
	ParticipantConnected    = "participant_connected"
	ParticipantDisconnected = "participant_disconnected"
	PairingRequested        = "pairing_requested"
	PairingEnqueued         = "pairing_enqueued"
	SessionCreated          = "session_created"
	SessionTornDown         = "session_torn_down"
	ImplicitLeave           = "implicit_leave"
	SignalRelayed           = "signal_relayed"
	SignalDroppedStale      = "signal_dropped_stale"
	ChatPosted              = "chat_posted"
	ChatDroppedStale        = "chat_dropped_stale"
	SystemMessagePosted     = "system_message_posted"
	SendQueueOverflow       = "send_queue_overflow"
	InvalidMessage          = "invalid_message"
	MessageTooLarge         = "message_too_large"
	RateLimited             = "rate_limited"
)

// Gauge names.
const (
	GaugeWaitingParticipants = "waiting_participants"
	GaugeActiveSessions      = "active_sessions"
	GaugeConnectedClients    = "connected_clients"
)

// SignalRelayedKind labels relayed signals by their variant tag.
func SignalRelayedKind(kind string) string {
	if kind == "" {
		kind = "unknown"
	}
	return SignalRelayed + "_" + kind
}

// Metrics is a concurrency-safe registry of monotonically increasing event
// counters and point-in-time gauges.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
	gauges   map[string]int64
}

func New() *Metrics {
	return &Metrics{
		counters: make(map[string]uint64),
		gauges:   make(map[string]int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *Metrics) SetGauge(name string, v int64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.counters)
}

// GaugeSnapshot returns a copy of all gauges.
func (m *Metrics) GaugeSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.gauges)
}
