package dpos

// Voter is the side-effect-free state machine described in §4.D. It is
// explicitly NOT thread-safe (§5): all access must be serialized by the
// embedding controller. A Voter is a value type with no static state --
// every field needed to reproduce its behavior lives on the struct.
type Voter struct {
	params Params
	hooks  Hooks

	amIVoter bool
	me       VoterID
	tip      [32]byte

	states map[[32]byte]*TipState // V[tip]

	txs           map[[32]byte]Tx
	pledgedInputs map[Outpoint][32]byte // outpoint -> tx-id
}

// NewVoter constructs a Voter with empty per-tip state rooted at tip.
func NewVoter(params Params, hooks Hooks, me VoterID, amIVoter bool, tip [32]byte) *Voter {
	v := &Voter{
		params:        params,
		hooks:         hooks,
		amIVoter:      amIVoter,
		me:            me,
		tip:           tip,
		states:        make(map[[32]byte]*TipState),
		txs:           make(map[[32]byte]Tx),
		pledgedInputs: make(map[Outpoint][32]byte),
	}
	v.states[tip] = newTipState()
	return v
}

func (v *Voter) Tip() [32]byte       { return v.tip }
func (v *Voter) AmIVoter() bool      { return v.amIVoter }
func (v *Voter) Me() VoterID         { return v.me }
func (v *Voter) TxCount() int        { return len(v.txs) }

func (v *Voter) HasTx(id [32]byte) bool {
	_, ok := v.txs[id]
	return ok
}

// KnownTips enumerates every tip this voter still holds state for (V[tip],
// §3), for the controller's GC pass to check against MaxKeep.
func (v *Voter) KnownTips() [][32]byte {
	out := make([][32]byte, 0, len(v.states))
	for tip := range v.states {
		out = append(out, tip)
	}
	return out
}

// state returns V[tip], creating it lazily on first ingest for that tip
// (§3 Lifecycle).
func (v *Voter) state(tip [32]byte) *TipState {
	s, ok := v.states[tip]
	if !ok {
		s = newTipState()
		v.states[tip] = s
	}
	return s
}

func (v *Voter) currentState() *TipState {
	return v.state(v.tip)
}

// CurrentRound returns the current tip's current round (§4.C).
func (v *Voter) CurrentRound() Round {
	return currentRound(v.currentState(), v.params.NumOfVoters, v.params.MinQuorum)
}

// isArchivable reports whether hash is either the current tip or an ancestor
// the embedding chain still considers safe to keep (§3 "Archivable").
func (v *Voter) isArchivable(hash [32]byte) bool {
	if hash == v.tip {
		return true
	}
	if v.hooks.AllowArchiving == nil {
		return false
	}
	return v.hooks.AllowArchiving(hash)
}

// UpdateTip implements §4.D updateTip: prune txs entries finalized at the
// old tip (committed or not-committable), set tip, and leave V untouched.
func (v *Voter) UpdateTip(newTip [32]byte) {
	old := v.tip
	oldState, hasOld := v.states[old]
	if hasOld {
		for txID := range oldState.knownTxIDs() {
			t, ok := v.txs[txID]
			if !ok {
				continue
			}
			tally := txTally(oldState, currentRound(oldState, v.params.NumOfVoters, v.params.MinQuorum), txID)
			if tally.Committed(v.params.MinQuorum) || tally.NotCommittable(v.params.NumOfVoters, v.params.MinQuorum) {
				v.forgetTx(t)
			}
		}
	}
	v.tip = newTip
	if _, ok := v.states[newTip]; !ok {
		v.states[newTip] = newTipState()
	}
}

func (v *Voter) forgetTx(t Tx) {
	delete(v.txs, t.ID)
	for _, in := range t.Inputs {
		if owner, ok := v.pledgedInputs[in]; ok && owner == t.ID {
			delete(v.pledgedInputs, in)
		}
	}
}

// ArchiveTip implements §3 invariant 5: erase V[tip] and derived indexes for
// a tip that has fallen out of the keep window. Called by the controller's
// GC pass, not by the voter itself.
func (v *Voter) ArchiveTip(tip [32]byte) {
	delete(v.states, tip)
}

// depthWindowStates returns V[tip] together with up to params.VotingMemory
// ancestor tip-states held locally, walking back via Hooks.GetPrevBlock
// (§3 "Committed set at (tip, round, depth-window)"). With VotingMemory == 0
// (the zero value) this is just V[tip], matching single-tip semantics.
func (v *Voter) depthWindowStates() []*TipState {
	out := make([]*TipState, 0, v.params.VotingMemory+1)
	cur := v.tip
	for i := uint64(0); i <= v.params.VotingMemory; i++ {
		if s, ok := v.states[cur]; ok {
			out = append(out, s)
		}
		if v.hooks.GetPrevBlock == nil {
			break
		}
		prev := v.hooks.GetPrevBlock(cur)
		if prev == ([32]byte{}) || prev == cur {
			break
		}
		cur = prev
	}
	return out
}

// pooledTxTally sums txID's YES/NO votes across depthWindowStates, counting
// each voter at most once even if it recorded a matching vote at more than
// one tip in the window.
func (v *Voter) pooledTxTally(txID [32]byte) TxTally {
	var t TxTally
	seenYes := make(map[VoterID]struct{})
	seenNo := make(map[VoterID]struct{})
	for _, s := range v.depthWindowStates() {
		for _, byVoter := range s.allTxVotesForTx(txID) {
			for voter, vote := range byVoter {
				switch vote.Choice.Decision {
				case DecisionYES:
					if _, dup := seenYes[voter]; !dup {
						seenYes[voter] = struct{}{}
						t.Pro++
					}
				case DecisionNO:
					if _, dup := seenNo[voter]; !dup {
						seenNo[voter] = struct{}{}
						t.Contra++
					}
				}
			}
		}
	}
	t.Total = t.Pro + t.Contra
	return t
}

// committedTxSet returns the set of transactions committed at the current
// tip, pooling votes from the tip and up to params.VotingMemory ancestors
// (§3 depth-window), restricted to bodies we actually hold.
func (v *Voter) committedTxSet() map[[32]byte]Tx {
	ids := make(map[[32]byte]struct{})
	for _, s := range v.depthWindowStates() {
		for id := range s.knownTxIDs() {
			ids[id] = struct{}{}
		}
	}
	out := make(map[[32]byte]Tx)
	for txID := range ids {
		t, ok := v.txs[txID]
		if !ok {
			continue
		}
		if v.pooledTxTally(txID).Committed(v.params.MinQuorum) {
			out[txID] = t
		}
	}
	return out
}

// pendingTxCount counts cached tx bodies that are neither committed nor
// not-committable at the current tip -- the count params.MaxNotVotedTxsToKeep
// bounds (§6 backpressure against vote-flooding).
func (v *Voter) pendingTxCount() int {
	if len(v.txs) == 0 {
		return 0
	}
	s := v.currentState()
	r := currentRound(s, v.params.NumOfVoters, v.params.MinQuorum)
	n := 0
	for id := range v.txs {
		tally := txTally(s, r, id)
		if tally.Committed(v.params.MinQuorum) || tally.NotCommittable(v.params.NumOfVoters, v.params.MinQuorum) {
			continue
		}
		n++
	}
	return n
}

// ListCommittedTxs returns the committed set at the current tip, for test
// and inspection use (§8 S2).
func (v *Voter) ListCommittedTxs() []Tx {
	set := v.committedTxSet()
	out := make([]Tx, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	return out
}

// approvedByMe returns the set of tx-ids I have cast YES on at the current
// tip, across all rounds. ok is false if any referenced tx body is missing
// locally (§4.D voteForTx / doRoundVoting precondition); in that case
// missing carries fetch requests for the caller to emit.
func (v *Voter) approvedByMe() (set map[[32]byte]Tx, ok bool, missing Output) {
	s := v.currentState()
	set = make(map[[32]byte]Tx)
	ok = true
	for _, byTx := range s.txVotes {
		for txID, voters := range byTx {
			vote, voted := voters[v.me]
			if !voted || vote.Choice.Decision != DecisionYES {
				continue
			}
			t, have := v.txs[txID]
			if !have {
				ok = false
				missing = missing.Merge(outFetchTx(txID))
				continue
			}
			set[txID] = t
		}
	}
	return set, ok, missing
}

// ApplyTx implements §4.D applyTx.
func (v *Voter) ApplyTx(t Tx) Output {
	if v.hooks.PreValidateTx != nil && !v.hooks.PreValidateTx(t, v.params.ExpiryWindow) {
		return outErr(verr(ErrInvalid, 0, "tx failed preValidate"))
	}
	// A tx that cannot validate even as a singleton set is unconditionally
	// bad (not merely in conflict with something I've already approved);
	// drop it silently rather than cache it and cast a NO (§7: hook
	// rejection is silent unless it's one of the §7 graded categories).
	if v.hooks.ValidateTxSet != nil && !v.hooks.ValidateTxSet(map[[32]byte]Tx{t.ID: t}) {
		return Output{}
	}

	s := v.currentState()
	wasLost := len(s.allTxVotesForTx(t.ID)) > 0
	_, alreadyCached := v.txs[t.ID]

	if !alreadyCached && v.params.MaxNotVotedTxsToKeep > 0 && uint32(v.pendingTxCount()) >= v.params.MaxNotVotedTxsToKeep {
		// Backpressure (§6 maxNotVotedTxsToKeep): already holding as many
		// undecided tx bodies as we're willing to cache; drop silently, the
		// same as any other hook-rejection the sender isn't penalized for.
		return Output{}
	}

	v.txs[t.ID] = t

	if wasLost && !alreadyCached {
		var out Output
		out = out.Merge(v.doTxsVoting())
		out = out.Merge(v.doRoundVoting())
		return out
	}
	return v.voteForTx(t)
}

// ApplyViceBlock implements §4.D applyViceBlock.
func (v *Voter) ApplyViceBlock(b ViceBlock) Output {
	if !wellFormedViceBlock(b) {
		return outErr(verr(ErrMalformed, 0, "malformed vice-block"))
	}
	if v.hooks.ValidateBlock != nil && !v.hooks.ValidateBlock(b, v.committedTxSet(), false) {
		return outErr(verr(ErrInvalid, 0, "vice-block failed header validation"))
	}

	if !v.isArchivable(b.Prev) {
		return outErr(verr(ErrUnknownAncestor, 0, "vice-block references unknown ancestor"))
	}

	target := v.state(b.Prev)
	if _, dup := target.getViceBlock(b.Hash); dup {
		return Output{} // idempotent re-apply (P4)
	}
	target.insertViceBlock(b)

	if b.Prev == v.tip && b.Round == v.CurrentRound() {
		return v.doRoundVoting()
	}
	return Output{}
}

// ApplyTxVote implements §4.D applyTxVote.
func (v *Voter) ApplyTxVote(vote TxVote) Output {
	if !wellFormedTxVote(vote) {
		return outErr(verr(ErrMalformed, vote.Voter, "malformed tx-vote"))
	}
	if !v.isArchivable(vote.Tip) {
		return outErr(verr(ErrUnknownAncestor, vote.Voter, "tx-vote references unknown ancestor"))
	}

	s := v.state(vote.Tip)
	if existing, ok := s.existingTxVote(vote.Round, vote.TxID, vote.Voter); ok {
		if existing.samePayload(vote) {
			return Output{} // duplicate, idempotent (P4)
		}
		return outErr(verr(ErrDoublesign, vote.Voter, "conflicting tx-vote for same (voter, round, tip, subject)"))
	}
	if v.params.MaxTxVotesFromVoter > 0 {
		// Backpressure (§6 maxTxVotesFromVoter): cap how many distinct txs a
		// single voter can have outstanding votes on at this tip.
		already := s.voterTxVoteTxIDs(vote.Voter)
		if _, onFile := already[vote.TxID]; !onFile && uint32(len(already)) >= v.params.MaxTxVotesFromVoter {
			return Output{}
		}
	}
	s.insertTxVote(vote)

	if vote.Tip != v.tip {
		return Output{}
	}

	var out Output
	if _, have := v.txs[vote.TxID]; !have {
		out = out.Merge(outFetchTx(vote.TxID))
	}
	out = out.Merge(v.doRoundVoting())
	return out
}

// ApplyRoundVote implements §4.D applyRoundVote.
func (v *Voter) ApplyRoundVote(vote RoundVote) Output {
	if !wellFormedRoundVote(vote) {
		return outErr(verr(ErrMalformed, vote.Voter, "malformed round-vote"))
	}
	if !v.isArchivable(vote.Tip) {
		return outErr(verr(ErrUnknownAncestor, vote.Voter, "round-vote references unknown ancestor"))
	}

	s := v.state(vote.Tip)
	if existing, ok := s.existingRoundVote(vote.Round, vote.Voter); ok {
		if existing.samePayload(vote) {
			return Output{}
		}
		return outErr(verr(ErrDoublesign, vote.Voter, "conflicting round-vote for same (voter, round, tip)"))
	}

	roundBefore := v.CurrentRound()
	s.insertRoundVote(vote)

	if vote.Tip != v.tip {
		return Output{}
	}

	var out Output
	roundAfter := v.CurrentRound()
	if roundAfter > roundBefore {
		out = out.Merge(v.doTxsVoting())
		out = out.Merge(v.doRoundVoting())
	}
	if vote.Choice.Decision == DecisionYES {
		out = out.Merge(v.tryToSubmitBlock(vote.Choice.Subject))
	}
	return out
}

// OnRoundTooLong implements §4.D: externally ticked when the wall-clock
// exceeds a round budget. The only mechanism that breaks a silent quorum.
func (v *Voter) OnRoundTooLong() Output {
	if !v.amIVoter {
		return Output{}
	}
	r := v.CurrentRound()
	s := v.currentState()
	if _, voted := s.existingRoundVote(r, v.me); voted {
		return Output{}
	}
	vote := RoundVote{
		Tip:    v.tip,
		Round:  r,
		Voter:  v.me,
		Choice: VoteChoice{Decision: DecisionPASS},
	}
	s.insertRoundVote(vote)
	return outRoundVote(vote)
}

// VerifyVotingState checks the safety invariants of §3 against the current
// in-memory state. A false return is fatal (§7 User-visible failure): the
// caller must treat persistence as corrupted and reindex.
func (v *Voter) VerifyVotingState() bool {
	for _, s := range v.states {
		if !verifyTipInvariants(s, v.txs, v.params) {
			return false
		}
	}
	return verifyPledgeFunctional(v.pledgedInputs)
}

func verifyPledgeFunctional(pledged map[Outpoint][32]byte) bool {
	// A Go map is functional by construction (one value per key); this
	// exists to make invariant 3 an explicit, checkable assertion rather
	// than an accident of the storage type.
	seen := make(map[Outpoint][32]byte, len(pledged))
	for k, val := range pledged {
		if prior, ok := seen[k]; ok && prior != val {
			return false
		}
		seen[k] = val
	}
	return true
}

func verifyTipInvariants(s *TipState, txs map[[32]byte]Tx, p Params) bool {
	// Invariant 4: at most one round-vote per (voter, round) -- guaranteed
	// by TipState's map shape, asserted here for defense in depth.
	for _, byVoter := range s.roundVotes {
		seen := make(map[VoterID]struct{}, len(byVoter))
		for voter := range byVoter {
			if _, dup := seen[voter]; dup {
				return false
			}
			seen[voter] = struct{}{}
		}
	}

	// Invariant 2: at most one vice-block submittable per round.
	byRound := make(map[Round][][32]byte)
	for hash, b := range s.viceBlocks {
		byRound[b.Round] = append(byRound[b.Round], hash)
	}
	for r, hashes := range byRound {
		rt := roundTally(s, r)
		submittable := 0
		for _, h := range hashes {
			if rt.ProByBlock[h] >= p.MinQuorum {
				submittable++
			}
		}
		if submittable > 1 {
			return false
		}
	}

	// Invariant 1: no two distinct committed txs share an input.
	committed := make([]Tx, 0)
	for txID := range s.knownTxIDs() {
		t, ok := txs[txID]
		if !ok {
			continue
		}
		r := currentRound(s, p.NumOfVoters, p.MinQuorum)
		if txTally(s, r, txID).Committed(p.MinQuorum) {
			committed = append(committed, t)
		}
	}
	for i := 0; i < len(committed); i++ {
		for j := i + 1; j < len(committed); j++ {
			if conflicts(committed[i], committed[j]) {
				return false
			}
		}
	}
	return true
}
