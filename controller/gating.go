package controller

import "time"

// ChainInfo supplies the three external facts §4.E's "Enable/disable gating"
// rule depends on: whether the dPoS upgrade is active at a given tip, that
// tip's block time, and when initial block download finished. It is the PoW
// chain's concern (§1 external collaborator), same as ChainProcessor.
type ChainInfo interface {
	UpgradeActiveAt(tip [32]byte) bool
	BlockTimeMillis(tip [32]byte) int64
	// IBDSyncCompletedAt returns the wall-clock time (unix millis) IBD
	// finished, or 0 if still in progress.
	IBDSyncCompletedAt() int64
	// HeightOf reports a block's chain height, ok=false if unknown. Used by
	// GCByHeight to find tips more than Params.MaxKeep behind the current
	// tip (§3 invariant 5).
	HeightOf(blockHash [32]byte) (uint64, bool)
}

// enabled implements spec.md's three-part gate: dPoS is enabled for a tip
// iff the chain upgrade is active, the committee at that tip is the
// configured team size, and the wall-clock hasn't drifted too far ahead of
// the tip's block time -- plus a post-IBD suspension delay. A Controller
// with no ChainInfo configured (e.g. tests, or an embedder that gates
// upstream of ingest) is always enabled.
func (c *Controller) enabled(tip [32]byte) bool {
	if c.chainInfo == nil {
		return true
	}
	if !c.chainInfo.UpgradeActiveAt(tip) {
		return false
	}
	snap, err := c.committee.CommitteeAt(tip)
	if err != nil || !snap.Enabled(c.cfg.TeamSize) {
		return false
	}
	if c.cfg.MaxClockSkew > 0 {
		now := c.now()
		blockTime := time.UnixMilli(c.chainInfo.BlockTimeMillis(tip))
		if now.Sub(blockTime) > c.cfg.MaxClockSkew {
			return false
		}
	}
	completed := c.chainInfo.IBDSyncCompletedAt()
	if completed == 0 {
		return false
	}
	if c.cfg.IBDSuspensionDelay > 0 {
		since := c.now().Sub(time.UnixMilli(completed))
		if since < c.cfg.IBDSuspensionDelay {
			return false
		}
	}
	return true
}

func (c *Controller) now() time.Time {
	if c.cfg.Hooks.GetTimeMillis != nil {
		return time.UnixMilli(c.cfg.Hooks.GetTimeMillis())
	}
	return time.Now()
}
