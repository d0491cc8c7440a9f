package controller

import (
	"time"

	"rubin.dev/dposvoter/committee"
)

// penalize adds delta to sender's decaying ban score (the teacher's
// ban-score policy). The score is only recorded here: nothing is passed to
// the transport, and no ban or throttle is applied to the sender.
func (c *Controller) penalize(sender committee.OperatorKeyID, delta int) {
	c.mu.Lock()
	bs, ok := c.roundScores[sender]
	if !ok {
		bs = &BanScore{}
		c.roundScores[sender] = bs
	}
	now := time.Now()
	bs.Add(now, delta)
	banned := bs.ShouldBan(now)
	c.mu.Unlock()
	if banned {
		// Scoring is advisory to the embedding node's transport; the voter
		// core never sees this (§7).
		_ = sender
	}
}

// GC archives tip state that has fallen outside the keep window (§3
// invariant 5) and purges its persisted records, called from the polling
// loop alongside round-timeout ticks (§4.E polling loop item (iii)).
func (c *Controller) GC(archivableTips [][32]byte) {
	c.mu.Lock()
	for _, tip := range archivableTips {
		c.voter.ArchiveTip(tip)
	}
	c.mu.Unlock()
	for _, tip := range archivableTips {
		_ = c.db.GCTip(tip)
		c.forgetTipSigs(tip)
	}
}

// GCByHeight finds every known tip more than Params.MaxKeep blocks behind
// the current tip's height, using ChainInfo.HeightOf, and archives them
// (§3 invariant 5, §6 "MaxKeep: archival distance"). A no-op without a
// configured ChainInfo or MaxKeep, since there is then nothing to measure
// distance against.
func (c *Controller) GCByHeight() {
	if c.chainInfo == nil || c.cfg.Params.MaxKeep == 0 {
		return
	}
	c.mu.Lock()
	tip := c.voter.Tip()
	known := c.voter.KnownTips()
	c.mu.Unlock()

	head, ok := c.chainInfo.HeightOf(tip)
	if !ok {
		return
	}
	var archivable [][32]byte
	for _, t := range known {
		if t == tip {
			continue
		}
		h, ok := c.chainInfo.HeightOf(t)
		if !ok || head < h {
			continue
		}
		if head-h > c.cfg.Params.MaxKeep {
			archivable = append(archivable, t)
		}
	}
	if len(archivable) > 0 {
		c.GC(archivable)
	}
}
