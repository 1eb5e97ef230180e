package matchmaking

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

// ErrHubStopped is returned by requests submitted after the hub stopped.
var ErrHubStopped = errors.New("matchmaking: hub stopped")

// DefaultQueueSize is the capacity of the hub's inbound event queue.
const DefaultQueueSize = 1024

type eventKind int

const (
	eventJoin eventKind = iota
	eventFindPeer
	eventSignal
	eventChat
	eventLeave
	eventDrop
	eventStatus
)

type event struct {
	kind    eventKind
	peer    Peer
	id      ParticipantID
	payload json.RawMessage
	text    string
	reply   chan protocol.Status
}

// Hub runs a Service on a single goroutine. Every participant event is
// handled to completion before the next one is taken from the queue, so the
// Service needs no locks. Events from one participant are processed in the
// order they were submitted.
type Hub struct {
	svc    *Service
	events chan event
	done   chan struct{}
}

func NewHub(svc *Service, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		svc:    svc,
		events: make(chan event, queueSize),
		done:   make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then shuts the Service down
// and releases any blocked submitters.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.svc.Shutdown()
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventJoin:
		h.svc.Join(ev.peer)
	case eventFindPeer:
		h.svc.RequestPairing(ev.id)
	case eventSignal:
		h.svc.Relay(ev.id, ev.payload)
	case eventChat:
		h.svc.PostMessage(ev.id, ev.text)
	case eventLeave:
		h.svc.Disconnect(ev.id)
	case eventDrop:
		h.svc.Remove(ev.id)
	case eventStatus:
		ev.reply <- h.svc.Status()
	}
}

func (h *Hub) submit(ev event) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Join registers a connected participant.
func (h *Hub) Join(p Peer) bool {
	return h.submit(event{kind: eventJoin, peer: p})
}

// FindPeer requests pairing for id.
func (h *Hub) FindPeer(id ParticipantID) bool {
	return h.submit(event{kind: eventFindPeer, id: id})
}

// Signal relays a negotiation payload from id to its partner.
func (h *Hub) Signal(id ParticipantID, payload json.RawMessage) bool {
	return h.submit(event{kind: eventSignal, id: id, payload: payload})
}

// SendMessage posts a chat message from id.
func (h *Hub) SendMessage(id ParticipantID, text string) bool {
	return h.submit(event{kind: eventChat, id: id, text: text})
}

// Leave handles an explicit disconnect-peer from id.
func (h *Hub) Leave(id ParticipantID) bool {
	return h.submit(event{kind: eventLeave, id: id})
}

// Drop handles transport loss for id. It performs the same cleanup as Leave
// and then forgets the participant.
func (h *Hub) Drop(id ParticipantID) bool {
	return h.submit(event{kind: eventDrop, id: id})
}

// Status returns a snapshot taken on the event loop, so it reflects every
// event submitted before the call.
func (h *Hub) Status(ctx context.Context) (protocol.Status, error) {
	if h.stopped() {
		return protocol.Status{}, ErrHubStopped
	}
	reply := make(chan protocol.Status, 1)
	select {
	case h.events <- event{kind: eventStatus, reply: reply}:
	case <-h.done:
		return protocol.Status{}, ErrHubStopped
	case <-ctx.Done():
		return protocol.Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-h.done:
		return protocol.Status{}, ErrHubStopped
	case <-ctx.Done():
		return protocol.Status{}, ctx.Err()
	}
}
