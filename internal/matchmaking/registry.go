package matchmaking

import (
	"cmp"
	"errors"
	"slices"
	"strconv"
	"time"
)

var (
	ErrSelfPairing   = errors.New("matchmaking: participant cannot pair with itself")
	ErrAlreadyPaired = errors.New("matchmaking: participant already has a session")
)

// ParticipantID identifies a connected participant. It is assigned by the
// transport when the connection is accepted.
type ParticipantID string

// SessionID identifies a session. Ids come from a process-wide counter and
// are never reused.
type SessionID uint64

// String renders the id as the room id sent to clients.
func (id SessionID) String() string {
	return "room_" + strconv.FormatUint(uint64(id), 10)
}

type Session struct {
	ID        SessionID
	Initiator ParticipantID
	Responder ParticipantID
	CreatedAt time.Time
}

// Partner returns the other participant of the session.
func (s Session) Partner(p ParticipantID) (ParticipantID, bool) {
	switch p {
	case s.Initiator:
		return s.Responder, true
	case s.Responder:
		return s.Initiator, true
	default:
		return "", false
	}
}

// Registry is the source of truth for who is paired with whom. Every active
// session is reachable from both of its participants.
type Registry struct {
	last          SessionID
	byParticipant map[ParticipantID]*Session
	byID          map[SessionID]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byParticipant: make(map[ParticipantID]*Session),
		byID:          make(map[SessionID]*Session),
	}
}

// Create pairs initiator with responder under a fresh session id.
func (r *Registry) Create(initiator, responder ParticipantID, now time.Time) (Session, error) {
	if initiator == responder {
		return Session{}, ErrSelfPairing
	}
	if _, ok := r.byParticipant[initiator]; ok {
		return Session{}, ErrAlreadyPaired
	}
	if _, ok := r.byParticipant[responder]; ok {
		return Session{}, ErrAlreadyPaired
	}

	r.last++
	s := &Session{
		ID:        r.last,
		Initiator: initiator,
		Responder: responder,
		CreatedAt: now,
	}
	r.byParticipant[initiator] = s
	r.byParticipant[responder] = s
	r.byID[s.ID] = s
	return *s, nil
}

// Get returns the active session with the given id.
func (r *Registry) Get(id SessionID) (Session, bool) {
	s, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) Lookup(p ParticipantID) (Session, bool) {
	s, ok := r.byParticipant[p]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) LookupPartner(p ParticipantID) (ParticipantID, bool) {
	s, ok := r.byParticipant[p]
	if !ok {
		return "", false
	}
	return s.Partner(p)
}

// LookupSessionID returns the id of the session joining p and partner. Both
// directions must resolve to the same session.
func (r *Registry) LookupSessionID(p, partner ParticipantID) (SessionID, bool) {
	a, ok := r.byParticipant[p]
	if !ok {
		return 0, false
	}
	b, ok := r.byParticipant[partner]
	if !ok || a != b {
		return 0, false
	}
	return a.ID, true
}

// Remove deletes both directions of p's pairing and returns the removed
// session.
func (r *Registry) Remove(p ParticipantID) (Session, bool) {
	s, ok := r.byParticipant[p]
	if !ok {
		return Session{}, false
	}
	delete(r.byParticipant, s.Initiator)
	delete(r.byParticipant, s.Responder)
	delete(r.byID, s.ID)
	return *s, true
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Participants returns the number of paired participants.
func (r *Registry) Participants() int {
	return len(r.byParticipant)
}

// Sessions returns all active sessions ordered by id.
func (r *Registry) Sessions() []Session {
	out := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Session) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Reset drops every session. The id counter keeps counting.
func (r *Registry) Reset() {
	clear(r.byParticipant)
	clear(r.byID)
}
