package controller

import "rubin.dev/dposvoter/dpos"

// roundSigKey identifies one voter's signature over one round-vote. The voter
// pins (tip, round, voter) to a single payload -- it rejects a doublesign
// with a different payload (§4.D), and IngestRoundVote records a signature
// only for a vote the voter accepted -- so this triple is a safe lookup key
// for the signature that came with it.
type roundSigKey struct {
	tip   [32]byte
	round dpos.Round
	voter dpos.VoterID
}

// storeRoundVoteSig records the signature this node just produced for its
// own round-vote, so a later quorum can be assembled back into real
// signature bytes (§2 Flow, §4.E Block assembly). Signatures of inbound
// round-votes are recorded by IngestRoundVote under the same map.
func (c *Controller) storeRoundVoteSig(tip [32]byte, round dpos.Round, voter dpos.VoterID, sig []byte) {
	c.mu.Lock()
	c.roundSigs[roundSigKey{tip, round, voter}] = sig
	c.mu.Unlock()
}

func (c *Controller) roundVoteSig(tip [32]byte, round dpos.Round, voter dpos.VoterID) ([]byte, bool) {
	c.mu.Lock()
	sig, ok := c.roundSigs[roundSigKey{tip, round, voter}]
	c.mu.Unlock()
	return sig, ok
}

// forgetTipSigs drops every stored signature for tip, called alongside GC's
// store purge so the map doesn't grow without bound past the keep window.
func (c *Controller) forgetTipSigs(tip [32]byte) {
	c.mu.Lock()
	for k := range c.roundSigs {
		if k.tip == tip {
			delete(c.roundSigs, k)
		}
	}
	c.mu.Unlock()
}
