package dpos

// TipState is the per-tip voting state V[tip] (§3, §4.B). Entries are
// inserted once and never mutated; the whole struct is discarded on
// archival (§3 invariant 5).
type TipState struct {
	// roundVotes: round -> (voter -> RoundVote). One entry per voter per
	// round; a second distinct entry for the same key is a doublesign.
	roundVotes map[Round]map[VoterID]RoundVote

	// txVotes: round -> tx-id -> (voter -> TxVote). Same doublesign rule.
	txVotes map[Round]map[[32]byte]map[VoterID]TxVote

	// viceBlocks: block-hash -> vice-block.
	viceBlocks map[[32]byte]ViceBlock
}

func newTipState() *TipState {
	return &TipState{
		roundVotes: make(map[Round]map[VoterID]RoundVote),
		txVotes:    make(map[Round]map[[32]byte]map[VoterID]TxVote),
		viceBlocks: make(map[[32]byte]ViceBlock),
	}
}

// roundVotesAt returns voter -> RoundVote for round r, creating the inner
// map lazily.
func (s *TipState) roundVotesAt(r Round) map[VoterID]RoundVote {
	m, ok := s.roundVotes[r]
	if !ok {
		m = make(map[VoterID]RoundVote)
		s.roundVotes[r] = m
	}
	return m
}

// txVotesAt returns voter -> TxVote for (round r, tx-id), creating the
// intermediate maps lazily.
func (s *TipState) txVotesAt(r Round, txID [32]byte) map[VoterID]TxVote {
	byTx, ok := s.txVotes[r]
	if !ok {
		byTx = make(map[[32]byte]map[VoterID]TxVote)
		s.txVotes[r] = byTx
	}
	m, ok := byTx[txID]
	if !ok {
		m = make(map[VoterID]TxVote)
		byTx[txID] = m
	}
	return m
}

// existingRoundVote looks up a prior vote for (voter, round), returning
// ok=false if none exists yet.
func (s *TipState) existingRoundVote(r Round, voter VoterID) (RoundVote, bool) {
	m, ok := s.roundVotes[r]
	if !ok {
		return RoundVote{}, false
	}
	v, ok := m[voter]
	return v, ok
}

func (s *TipState) existingTxVote(r Round, txID [32]byte, voter VoterID) (TxVote, bool) {
	byTx, ok := s.txVotes[r]
	if !ok {
		return TxVote{}, false
	}
	m, ok := byTx[txID]
	if !ok {
		return TxVote{}, false
	}
	v, ok := m[voter]
	return v, ok
}

func (s *TipState) insertRoundVote(v RoundVote) {
	s.roundVotesAt(v.Round)[v.Voter] = v
}

func (s *TipState) insertTxVote(v TxVote) {
	s.txVotesAt(v.Round, v.TxID)[v.Voter] = v
}

func (s *TipState) getViceBlock(hash [32]byte) (ViceBlock, bool) {
	b, ok := s.viceBlocks[hash]
	return b, ok
}

func (s *TipState) insertViceBlock(b ViceBlock) {
	s.viceBlocks[b.Hash] = b
}

// viceBlocksAtRound enumerates vice-blocks pinned to round r (§4.B).
func (s *TipState) viceBlocksAtRound(r Round) []ViceBlock {
	out := make([]ViceBlock, 0)
	for _, b := range s.viceBlocks {
		if b.Round == r {
			out = append(out, b)
		}
	}
	return out
}

// allTxVotesForTx returns, across all rounds, every vote cast on txID,
// keyed by round then voter -- used by the tally engine's "summed across
// all rounds" semantics (§4.C).
func (s *TipState) allTxVotesForTx(txID [32]byte) map[Round]map[VoterID]TxVote {
	out := make(map[Round]map[VoterID]TxVote)
	for r, byTx := range s.txVotes {
		if m, ok := byTx[txID]; ok && len(m) > 0 {
			out[r] = m
		}
	}
	return out
}

// voterTxVoteTxIDs enumerates the distinct tx-ids voter has cast a vote on
// at this tip, across all rounds -- used by the MaxTxVotesFromVoter
// backpressure bound (§6).
func (s *TipState) voterTxVoteTxIDs(voter VoterID) map[[32]byte]struct{} {
	out := make(map[[32]byte]struct{})
	for _, byTx := range s.txVotes {
		for txID, byVoter := range byTx {
			if _, ok := byVoter[voter]; ok {
				out[txID] = struct{}{}
			}
		}
	}
	return out
}

// knownTxIDs enumerates every tx-id that has at least one vote recorded at
// this tip, across all rounds.
func (s *TipState) knownTxIDs() map[[32]byte]struct{} {
	out := make(map[[32]byte]struct{})
	for _, byTx := range s.txVotes {
		for txID := range byTx {
			out[txID] = struct{}{}
		}
	}
	return out
}
