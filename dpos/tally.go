package dpos

import (
	"bytes"
	"sort"
)

// TxTally is the vote distribution for a single transaction at a tip (§4.C
// "Tx voting distribution"). Pro/Contra are summed across all rounds
// (YES/NO survive across rounds); Abstinendi is restricted to one round
// (PASS is per-round, non-binding).
type TxTally struct {
	Pro        uint32
	Contra     uint32
	Abstinendi uint32
	Total      uint32
}

// txTally computes the distribution for txID at tip, with Abstinendi
// counted only for round r (§4.C).
func txTally(s *TipState, r Round, txID [32]byte) TxTally {
	var t TxTally
	for round, voters := range s.allTxVotesForTx(txID) {
		for _, v := range voters {
			switch v.Choice.Decision {
			case DecisionYES:
				t.Pro++
			case DecisionNO:
				t.Contra++
			case DecisionPASS:
				if round == r {
					t.Abstinendi++
				}
				continue
			}
		}
	}
	t.Total = t.Pro + t.Contra + t.Abstinendi
	return t
}

// TxCommitted reports whether t is committed per §4.C: pro >= minQuorum.
func (t TxTally) Committed(minQuorum uint32) bool {
	return t.Pro >= minQuorum
}

// TxNotCommittable reports §4.C: pro + (numOfVoters - total) < minQuorum,
// i.e. even unanimous silence could not reach quorum.
func (t TxTally) NotCommittable(numOfVoters, minQuorum uint32) bool {
	unknown := int64(numOfVoters) - int64(t.Total)
	if unknown < 0 {
		unknown = 0
	}
	return int64(t.Pro)+unknown < int64(minQuorum)
}

// RoundTally is the vote distribution over vice-blocks at (tip, round)
// (§4.C "Round voting distribution").
type RoundTally struct {
	ProByBlock map[[32]byte]uint32
	Abstinendi uint32
	Total      uint32
}

func roundTally(s *TipState, r Round) RoundTally {
	rt := RoundTally{ProByBlock: make(map[[32]byte]uint32)}
	for _, v := range s.roundVotesAt(r) {
		switch v.Choice.Decision {
		case DecisionYES:
			rt.ProByBlock[v.Choice.Subject]++
			rt.Total++
		case DecisionPASS:
			rt.Abstinendi++
			rt.Total++
		}
	}
	return rt
}

func (rt RoundTally) maxPro() uint32 {
	var max uint32
	for _, v := range rt.ProByBlock {
		if v > max {
			max = v
		}
	}
	return max
}

// Stalemate reports §4.C's round-stalemate predicate: when true, round r can
// never elect a block and the voter advances to r+1.
func (rt RoundTally) Stalemate(numOfVoters, minQuorum uint32) bool {
	unknown := int64(numOfVoters) - int64(rt.Total)
	if unknown < 0 {
		unknown = 0
	}
	return int64(rt.maxPro())+unknown < int64(minQuorum)
}

// currentRound returns the lowest r >= 1 for which stalemate is false
// (§4.C getCurrentRound).
func currentRound(s *TipState, numOfVoters, minQuorum uint32) Round {
	var r Round = 1
	for {
		rt := roundTally(s, r)
		if !rt.Stalemate(numOfVoters, minQuorum) {
			return r
		}
		r++
	}
}

// sortedViceBlocksForRound ranks the vice-blocks at round r by (#YES at
// current round) descending, then block hash ascending for a deterministic
// tie-break (§4.D doRoundVoting).
func sortedViceBlocksForRound(s *TipState, r Round) []ViceBlock {
	blocks := s.viceBlocksAtRound(r)
	rt := roundTally(s, r)
	sort.SliceStable(blocks, func(i, j int) bool {
		pi, pj := rt.ProByBlock[blocks[i].Hash], rt.ProByBlock[blocks[j].Hash]
		if pi != pj {
			return pi > pj
		}
		return bytes.Compare(blocks[i].Hash[:], blocks[j].Hash[:]) < 0
	})
	return blocks
}
