package ratelimit

import "time"

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MessageLimiter admits up to perSecond messages per second with a burst of
// perSecond. Tokens are whole messages; refill carries the unused fraction of
// an interval forward so a steady sender at exactly the limit is never
// rejected.
//
// A MessageLimiter is owned by a single connection's read loop and is not
// safe for concurrent use.
type MessageLimiter struct {
	clock    Clock
	burst    int
	interval time.Duration

	tokens int
	last   time.Time
}

// NewMessageLimiter returns nil when perSecond <= 0; a nil limiter admits
// everything.
func NewMessageLimiter(clock Clock, perSecond int) *MessageLimiter {
	if perSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &MessageLimiter{
		clock:    clock,
		burst:    perSecond,
		interval: time.Second / time.Duration(perSecond),
		tokens:   perSecond,
		last:     clock.Now(),
	}
}

// Allow consumes one token if available.
func (l *MessageLimiter) Allow() bool {
	if l == nil {
		return true
	}
	l.refill()
	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}

func (l *MessageLimiter) refill() {
	now := l.clock.Now()
	if now.Before(l.last) {
		l.last = now
		return
	}
	if l.tokens >= l.burst {
		l.last = now
		return
	}
	n := int(now.Sub(l.last) / l.interval)
	if n <= 0 {
		return
	}
	if l.tokens+n >= l.burst {
		l.tokens = l.burst
		l.last = now
		return
	}
	l.tokens += n
	l.last = l.last.Add(time.Duration(n) * l.interval)
}
