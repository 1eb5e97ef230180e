package negotiation

// Bitrate policy defaults, in bits per second.
const (
	DefaultMaxBitrate = 300_000
	DefaultMinBitrate = 100_000

	lossHigh = 0.10
	lossLow  = 0.02
)

// BitratePolicy adapts the outbound video cap to reported loss.
type BitratePolicy struct {
	Max uint64
	Min uint64
}

func (p BitratePolicy) withDefaults() BitratePolicy {
	if p.Max == 0 {
		p.Max = DefaultMaxBitrate
	}
	if p.Min == 0 || p.Min > p.Max {
		p.Min = min(DefaultMinBitrate, p.Max)
	}
	return p
}

// Next returns the cap to use after a sample with the given loss. High loss
// backs off by 15% down to Min; low loss recovers by 5% up to Max.
func (p BitratePolicy) Next(current uint64, fractionLost float64) uint64 {
	p = p.withDefaults()
	next := current
	switch {
	case fractionLost > lossHigh:
		next = current * 85 / 100
	case fractionLost < lossLow:
		next = current * 105 / 100
	}
	return max(p.Min, min(p.Max, next))
}
