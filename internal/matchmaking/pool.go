package matchmaking

import "container/list"

// WaitingPool is an ordered set of participants awaiting a partner.
// Insertion order is pairing priority.
type WaitingPool struct {
	order *list.List
	index map[ParticipantID]*list.Element
}

func NewWaitingPool() *WaitingPool {
	return &WaitingPool{
		order: list.New(),
		index: make(map[ParticipantID]*list.Element),
	}
}

// Enqueue appends id at the tail. It reports false if id is already waiting.
func (p *WaitingPool) Enqueue(id ParticipantID) bool {
	if _, ok := p.index[id]; ok {
		return false
	}
	p.index[id] = p.order.PushBack(id)
	return true
}

// Remove drops id from the pool and reports whether it was present.
func (p *WaitingPool) Remove(id ParticipantID) bool {
	el, ok := p.index[id]
	if !ok {
		return false
	}
	p.order.Remove(el)
	delete(p.index, id)
	return true
}

// PopHead removes and returns the earliest enqueued participant.
func (p *WaitingPool) PopHead() (ParticipantID, bool) {
	el := p.order.Front()
	if el == nil {
		return "", false
	}
	id := el.Value.(ParticipantID)
	p.order.Remove(el)
	delete(p.index, id)
	return id, true
}

func (p *WaitingPool) Contains(id ParticipantID) bool {
	_, ok := p.index[id]
	return ok
}

func (p *WaitingPool) Len() int {
	return p.order.Len()
}

// Snapshot returns the waiting participants head first.
func (p *WaitingPool) Snapshot() []ParticipantID {
	out := make([]ParticipantID, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(ParticipantID))
	}
	return out
}

func (p *WaitingPool) Reset() {
	p.order.Init()
	clear(p.index)
}
