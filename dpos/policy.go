package dpos

// voteForTx implements §4.D voteForTx: only if amIVoter, not already voted
// on t this round, and my approved-by-me set has no missing txs (otherwise
// emit fetch requests and return, avoiding an accidental doublesign on
// conflicts I cannot see).
func (v *Voter) voteForTx(t Tx) Output {
	if !v.amIVoter {
		return Output{}
	}
	r := v.CurrentRound()
	s := v.currentState()
	if _, voted := s.existingTxVote(r, t.ID, v.me); voted {
		return Output{}
	}

	approved, ok, missing := v.approvedByMe()
	if !ok {
		return missing
	}

	decision := v.decideTxVote(t, approved)

	vote := TxVote{
		Tip:    v.tip,
		Round:  r,
		Voter:  v.me,
		TxID:   t.ID,
		Choice: VoteChoice{Subject: t.ID, Decision: decision},
	}
	s.insertTxVote(vote)
	if decision == DecisionYES {
		for _, in := range t.Inputs {
			v.pledgedInputs[in] = t.ID
		}
	}
	return outTxVote(vote)
}

// decideTxVote runs the two tx-set validation checks and the in-flight
// block-finalization guard described in §4.D voteForTx steps 1-4.
func (v *Voter) decideTxVote(t Tx, approved map[[32]byte]Tx) Decision {
	withApproved := cloneTxSet(approved)
	withApproved[t.ID] = t
	if v.hooks.ValidateTxSet != nil && !v.hooks.ValidateTxSet(withApproved) {
		return DecisionNO
	}

	withCommitted := v.committedTxSet()
	withCommitted[t.ID] = t
	if v.hooks.ValidateTxSet != nil && !v.hooks.ValidateTxSet(withCommitted) {
		return DecisionNO
	}

	if v.haveCastRoundYESThisRound() || v.anyCurrentRoundBlockValid() {
		return DecisionPASS
	}
	return DecisionYES
}

func cloneTxSet(in map[[32]byte]Tx) map[[32]byte]Tx {
	out := make(map[[32]byte]Tx, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (v *Voter) haveCastRoundYESThisRound() bool {
	s := v.currentState()
	vote, ok := s.existingRoundVote(v.CurrentRound(), v.me)
	return ok && vote.Choice.Decision == DecisionYES
}

func (v *Voter) anyCurrentRoundBlockValid() bool {
	s := v.currentState()
	r := v.CurrentRound()
	committed := v.committedTxSet()
	for _, b := range s.viceBlocksAtRound(r) {
		if v.hooks.ValidateBlock != nil && v.hooks.ValidateBlock(b, committed, true) {
			return true
		}
	}
	return false
}

// doTxsVoting implements §4.D doTxsVoting: iterate known txs and call
// voteForTx.
func (v *Voter) doTxsVoting() Output {
	var out Output
	for _, t := range v.txs {
		out = out.Merge(v.voteForTx(t))
	}
	return out
}

// doRoundVoting implements §4.D doRoundVoting.
func (v *Voter) doRoundVoting() Output {
	if !v.amIVoter {
		return Output{}
	}
	r := v.CurrentRound()
	s := v.currentState()
	if _, voted := s.existingRoundVote(r, v.me); voted {
		return Output{}
	}

	_, ok, missing := v.approvedByMe()
	if !ok {
		return missing
	}

	committed := v.committedTxSet()
	for _, b := range sortedViceBlocksForRound(s, r) {
		if b.Round != r {
			continue
		}
		if v.hooks.ValidateBlock == nil || !v.hooks.ValidateBlock(b, committed, true) {
			continue
		}
		vote := RoundVote{
			Tip:       v.tip,
			Round:     r,
			Voter:     v.me,
			Choice:    VoteChoice{Subject: b.Hash, Decision: DecisionYES},
			BlockHash: b.Hash,
		}
		s.insertRoundVote(vote)
		out := outRoundVote(vote)
		return out.Merge(v.tryToSubmitBlock(b.Hash))
	}
	return Output{}
}

// tryToSubmitBlock implements §4.D tryToSubmitBlock.
func (v *Voter) tryToSubmitBlock(blockHash [32]byte) Output {
	s := v.currentState()
	b, ok := s.getViceBlock(blockHash)
	if !ok {
		return outFetchBlock(blockHash)
	}
	r := v.CurrentRound()
	rt := roundTally(s, r)
	if rt.ProByBlock[blockHash] < v.params.MinQuorum {
		return Output{}
	}
	committed := v.committedTxSet()
	if v.hooks.ValidateBlock == nil || !v.hooks.ValidateBlock(b, committed, true) {
		return Output{}
	}
	var approvedBy []VoterID
	for voter, rv := range s.roundVotesAt(r) {
		if rv.Choice.Decision == DecisionYES && rv.Choice.Subject == blockHash {
			approvedBy = append(approvedBy, voter)
		}
	}
	return Output{BlockToSubmit: &BlockToSubmit{Block: b, ApprovedBy: approvedBy}}
}
