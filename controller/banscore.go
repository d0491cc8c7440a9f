package controller

import "time"

// BanScore is the teacher's decaying DoS-penalty primitive (node/p2p/
// banscore.go), adapted here to penalize a committee member that sends a
// bad-signature or protocol-violating vote instead of a raw P2P peer. It is
// a policy primitive, not a consensus rule (§7: identity-resolution and
// peer-scoring decisions never feed back into voter state).
type BanScore struct {
	score       int
	lastUpdated time.Time
}

const (
	banThreshold      = 100
	throttleThreshold = 50
	decaysPerMinute   = 1

	// scoreBadSignature is 100, not a graded value: §7 calls a forged/invalid
	// signature unambiguously hostile (cheap to check, expensive to forge by
	// accident), so it bans outright on a single occurrence.
	scoreBadSignature      = 100
	scoreProtocolViolation = 10
)

func (b *BanScore) Score(now time.Time) int {
	b.decayTo(now)
	return b.score
}

func (b *BanScore) Add(now time.Time, delta int) int {
	b.decayTo(now)
	b.score += delta
	if b.score < 0 {
		b.score = 0
	}
	return b.score
}

func (b *BanScore) ShouldBan(now time.Time) bool {
	return b.Score(now) >= banThreshold
}

func (b *BanScore) ShouldThrottle(now time.Time) bool {
	return b.Score(now) >= throttleThreshold
}

func (b *BanScore) decayTo(now time.Time) {
	if b.lastUpdated.IsZero() {
		b.lastUpdated = now
		return
	}
	if now.Before(b.lastUpdated) {
		b.lastUpdated = now
		return
	}
	minutes := int(now.Sub(b.lastUpdated) / time.Minute)
	if minutes <= 0 {
		return
	}
	b.score -= minutes * decaysPerMinute
	if b.score < 0 {
		b.score = 0
	}
	b.lastUpdated = now
}
