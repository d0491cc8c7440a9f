package dpos

import (
	"math/rand"
	"testing"
)

func testParams(numOfVoters, minQuorum uint32) Params {
	return Params{
		NumOfVoters:  numOfVoters,
		MinQuorum:    minQuorum,
		ExpiryWindow: 1000,
		MaxKeep:      100,
	}
}

// permissiveHooks models a toy ledger: any tx-set with no overlapping
// inputs is valid, any block validates.
func permissiveHooks() Hooks {
	return Hooks{
		PreValidateTx: func(Tx, uint32) bool { return true },
		ValidateTxSet: func(set map[[32]byte]Tx) bool {
			seen := make(map[Outpoint]struct{})
			for _, t := range set {
				for _, in := range t.Inputs {
					if _, dup := seen[in]; dup {
						return false
					}
					seen[in] = struct{}{}
				}
			}
			return true
		},
		ValidateBlock:  func(ViceBlock, map[[32]byte]Tx, bool) bool { return true },
		AllowArchiving: func([32]byte) bool { return true },
		GetPrevBlock:   func([32]byte) [32]byte { return [32]byte{} },
		GetTimeMillis:  func() int64 { return 0 },
	}
}

func hashFor(b byte) [32]byte {
	var h [32]byte
	h[31] = b
	return h
}

func newCommittee(n int, params Params, tip [32]byte) []*Voter {
	out := make([]*Voter, n)
	for i := 0; i < n; i++ {
		out[i] = NewVoter(params, permissiveHooks(), VoterID(i), true, tip)
	}
	return out
}

// S1 -- Empty block reaches quorum.
func TestS1EmptyBlockReachesQuorum(t *testing.T) {
	params := testParams(32, 23)
	tip := hashFor(0x01)
	voters := newCommittee(32, params, tip)

	block := ViceBlock{Hash: hashFor(0xAA), Prev: tip, Round: 1}

	var votes []RoundVote
	for i := 0; i < 23; i++ {
		out := voters[i].ApplyViceBlock(block)
		if len(out.RoundVotes) != 1 {
			t.Fatalf("voter %d: expected 1 round-vote, got %d", i, len(out.RoundVotes))
		}
		votes = append(votes, out.RoundVotes[0])
	}

	for i, v := range votes {
		out := voters[0].ApplyRoundVote(v)
		if i < 22 {
			if out.BlockToSubmit != nil {
				t.Fatalf("block submitted too early at vote %d", i)
			}
		} else {
			if out.BlockToSubmit == nil {
				t.Fatalf("expected block submission at 23rd vote")
			}
			if out.BlockToSubmit.Block.Hash != block.Hash {
				t.Fatalf("wrong block submitted")
			}
			if len(out.BlockToSubmit.ApprovedBy) != 23 {
				t.Fatalf("expected 23 approvers, got %d", len(out.BlockToSubmit.ApprovedBy))
			}
		}
	}
}

// S2 -- Single instant tx commits.
func TestS2SingleInstantTxCommits(t *testing.T) {
	params := testParams(32, 23)
	tip := hashFor(0x01)
	voters := newCommittee(32, params, tip)

	tx := Tx{ID: hashFor(0xBB), Inputs: []Outpoint{{TxID: hashFor(0x01), Vout: 0}}}

	var votes []TxVote
	for i := 0; i < 23; i++ {
		out := voters[i].ApplyTx(tx)
		if len(out.TxVotes) != 1 || out.TxVotes[0].Choice.Decision != DecisionYES {
			t.Fatalf("voter %d: expected 1 tx-YES, got %+v", i, out)
		}
		votes = append(votes, out.TxVotes[0])
	}

	for i, v := range votes {
		voters[0].ApplyTxVote(v)
		committed := voters[0].ListCommittedTxs()
		if i < 22 {
			if len(committed) != 0 {
				t.Fatalf("tx committed too early at vote %d", i)
			}
		} else {
			if len(committed) != 1 || committed[0].ID != tx.ID {
				t.Fatalf("expected exactly {tx} committed, got %+v", committed)
			}
		}
	}
}

// S3 -- Rejected tx.
func TestS3RejectedTxDropped(t *testing.T) {
	params := testParams(32, 23)
	tip := hashFor(0x01)
	v := NewVoter(params, Hooks{
		PreValidateTx:  func(Tx, uint32) bool { return true },
		ValidateTxSet:  func(map[[32]byte]Tx) bool { return false },
		ValidateBlock:  func(ViceBlock, map[[32]byte]Tx, bool) bool { return true },
		AllowArchiving: func([32]byte) bool { return true },
	}, 0, true, tip)

	tx := Tx{ID: hashFor(0xCC)}
	out := v.ApplyTx(tx)
	if len(out.TxVotes) != 0 {
		t.Fatalf("expected no vote, got %+v", out.TxVotes)
	}
	if v.TxCount() != 0 {
		t.Fatalf("expected tx dropped, txs count = %d", v.TxCount())
	}
}

// S4 -- Tip change prunes finalized.
func TestS4TipChangePrunesFinalized(t *testing.T) {
	params := testParams(32, 23)
	tip := hashFor(0x01)
	voters := newCommittee(32, params, tip)

	tx := Tx{ID: hashFor(0xDD), Inputs: []Outpoint{{TxID: hashFor(0x01), Vout: 0}}}
	var votes []TxVote
	for i := 0; i < 23; i++ {
		out := voters[i].ApplyTx(tx)
		votes = append(votes, out.TxVotes[0])
	}
	for _, v := range votes {
		voters[0].ApplyTxVote(v)
	}
	if len(voters[0].ListCommittedTxs()) != 1 {
		t.Fatalf("setup: expected commit before tip change")
	}

	tip2 := hashFor(0x02)
	voters[0].UpdateTip(tip2)
	if voters[0].TxCount() != 0 {
		t.Fatalf("expected txs pruned after tip change, got %d", voters[0].TxCount())
	}

	tx2 := Tx{ID: hashFor(0xEE)}
	voters[0].ApplyTx(tx2)
	tip3 := hashFor(0x03)
	voters[0].UpdateTip(tip3)
	if !voters[0].HasTx(tx2.ID) {
		t.Fatalf("expected unfinalized tx to survive tip change")
	}
}

// S5 -- Doublespend optimistic storm. 32 voters, 10 non-conflicting instant
// txs delivered to voter[0] in randomized order; within one simulated round
// exactly one block is elected carrying all 10 txs, no voter reports an
// error, and the committed set is a partition of inputs (P1).
func TestS5DoublespendOptimisticStorm(t *testing.T) {
	params := testParams(32, 23)
	params.MaxTxVotesFromVoter = 60
	params.MaxNotVotedTxsToKeep = 600
	tip := hashFor(0x01)
	voters := newCommittee(32, params, tip)
	rng := rand.New(rand.NewSource(1))

	const numTxs = 10
	txs := make([]Tx, numTxs)
	for i := range txs {
		txs[i] = Tx{ID: hashFor(byte(0x40 + i)), Inputs: []Outpoint{{TxID: hashFor(byte(0x40 + i)), Vout: 0}}}
	}

	// Every voter applies every tx, each in its own randomized order, as the
	// storm's per-voter scheduling does.
	var votes []TxVote
	for _, vi := range rng.Perm(len(voters)) {
		v := voters[vi]
		for _, ti := range rng.Perm(numTxs) {
			out := v.ApplyTx(txs[ti])
			if len(out.VErrors) != 0 {
				t.Fatalf("voter %d: unexpected error applying tx %d: %+v", vi, ti, out.VErrors)
			}
			votes = append(votes, out.TxVotes...)
		}
	}

	// Deliver every emitted tx-vote to voter[0] in randomized order.
	rng.Shuffle(len(votes), func(i, j int) { votes[i], votes[j] = votes[j], votes[i] })
	for _, vote := range votes {
		out := voters[0].ApplyTxVote(vote)
		if len(out.VErrors) != 0 {
			t.Fatalf("voter[0]: unexpected error on tx-vote %+v: %+v", vote, out.VErrors)
		}
	}

	committed := voters[0].ListCommittedTxs()
	if len(committed) != numTxs {
		t.Fatalf("expected all %d txs committed, got %d", numTxs, len(committed))
	}

	// P1: the committed set is a partition of inputs -- no shared input
	// across any pair of committed txs.
	seenInputs := make(map[Outpoint]bool)
	for _, tx := range committed {
		for _, in := range tx.Inputs {
			if seenInputs[in] {
				t.Fatalf("doublespend: input %+v claimed by more than one committed tx", in)
			}
			seenInputs[in] = true
		}
	}

	// Elect exactly one block carrying the committed txs.
	txIDs := make([][32]byte, 0, numTxs)
	for _, tx := range committed {
		txIDs = append(txIDs, tx.ID)
	}
	block := ViceBlock{Hash: hashFor(0x99), Prev: tip, Round: 1, TxIDs: txIDs}

	var roundVotes []RoundVote
	for i := 0; i < 23; i++ {
		out := voters[i].ApplyViceBlock(block)
		if len(out.VErrors) != 0 {
			t.Fatalf("voter %d: unexpected error on vice-block: %+v", i, out.VErrors)
		}
		roundVotes = append(roundVotes, out.RoundVotes...)
	}
	rng.Shuffle(len(roundVotes), func(i, j int) { roundVotes[i], roundVotes[j] = roundVotes[j], roundVotes[i] })

	var submitted *BlockToSubmit
	for _, v := range roundVotes {
		out := voters[0].ApplyRoundVote(v)
		if len(out.VErrors) != 0 {
			t.Fatalf("voter[0]: unexpected error on round-vote: %+v", out.VErrors)
		}
		if out.BlockToSubmit != nil {
			if submitted != nil && submitted.Block.Hash != out.BlockToSubmit.Block.Hash {
				t.Fatalf("block finality failed: two different blocks won")
			}
			submitted = out.BlockToSubmit
		}
	}
	if submitted == nil {
		t.Fatalf("expected exactly one block elected, none was")
	}
	if len(submitted.ApprovedBy) < int(params.MinQuorum) {
		t.Fatalf("expected at least %d approvers, got %d", params.MinQuorum, len(submitted.ApprovedBy))
	}
	if !voters[0].VerifyVotingState() {
		t.Fatalf("voting state invariants violated")
	}
}

// S6 -- Impossible quorum.
func TestS6ImpossibleQuorumNeverSubmits(t *testing.T) {
	params := testParams(32, 23)
	tip := hashFor(0x01)
	voters := newCommittee(22, params, tip)

	block := ViceBlock{Hash: hashFor(0xFF), Prev: tip, Round: 1}
	var votes []RoundVote
	for _, v := range voters {
		out := v.ApplyViceBlock(block)
		votes = append(votes, out.RoundVotes...)
	}
	for _, v := range votes {
		out := voters[0].ApplyRoundVote(v)
		if out.BlockToSubmit != nil {
			t.Fatalf("block must never be submittable with only 22 of 32 voting")
		}
	}
	for i := 0; i < 5; i++ {
		voters[0].OnRoundTooLong()
	}
	if !voters[0].VerifyVotingState() {
		t.Fatalf("voting state invariants violated")
	}
}

func TestIdempotentReapply(t *testing.T) {
	params := testParams(4, 3)
	tip := hashFor(0x01)
	voters := newCommittee(4, params, tip)
	tx := Tx{ID: hashFor(0x10)}
	out := voters[0].ApplyTx(tx)
	vote := out.TxVotes[0]

	// Re-applying the same vote to a different voter twice is a no-op the
	// second time (P4).
	voters[1].ApplyTxVote(vote)
	second := voters[1].ApplyTxVote(vote)
	if !second.IsEmpty() {
		t.Fatalf("expected no-op on duplicate re-apply, got %+v", second)
	}
}

func TestDoublesignDetected(t *testing.T) {
	params := testParams(4, 3)
	tip := hashFor(0x01)
	v := NewVoter(params, permissiveHooks(), 0, true, tip)

	first := TxVote{Tip: tip, Round: 1, Voter: 7, TxID: hashFor(0x20), Choice: VoteChoice{Subject: hashFor(0x20), Decision: DecisionYES}}
	second := TxVote{Tip: tip, Round: 1, Voter: 7, TxID: hashFor(0x20), Choice: VoteChoice{Subject: hashFor(0x20), Decision: DecisionNO}}

	if out := v.ApplyTxVote(first); len(out.VErrors) != 0 {
		t.Fatalf("unexpected error on first vote: %+v", out.VErrors)
	}
	out := v.ApplyTxVote(second)
	if len(out.VErrors) != 1 || out.VErrors[0].Code != ErrDoublesign {
		t.Fatalf("expected doublesign error, got %+v", out.VErrors)
	}
}

// TestMaxTxVotesFromVoterBackpressure exercises §6's maxTxVotesFromVoter:
// a voter already at its distinct-tx-vote cap at this tip gets its next
// vote on a new tx silently dropped, while re-applying a vote it already
// cast is handled as an ordinary duplicate no-op.
func TestMaxTxVotesFromVoterBackpressure(t *testing.T) {
	params := testParams(4, 3)
	params.MaxTxVotesFromVoter = 2
	tip := hashFor(0x01)
	v := NewVoter(params, permissiveHooks(), 0, true, tip)

	vote1 := TxVote{Tip: tip, Round: 1, Voter: 9, TxID: hashFor(0x10), Choice: VoteChoice{Subject: hashFor(0x10), Decision: DecisionYES}}
	vote2 := TxVote{Tip: tip, Round: 1, Voter: 9, TxID: hashFor(0x11), Choice: VoteChoice{Subject: hashFor(0x11), Decision: DecisionYES}}
	vote3 := TxVote{Tip: tip, Round: 1, Voter: 9, TxID: hashFor(0x12), Choice: VoteChoice{Subject: hashFor(0x12), Decision: DecisionYES}}

	if out := v.ApplyTxVote(vote1); len(out.VErrors) != 0 {
		t.Fatalf("unexpected error on vote1: %+v", out.VErrors)
	}
	if out := v.ApplyTxVote(vote2); len(out.VErrors) != 0 {
		t.Fatalf("unexpected error on vote2: %+v", out.VErrors)
	}
	// At cap (2 distinct tx-ids); a third distinct tx-id must be dropped.
	out := v.ApplyTxVote(vote3)
	if !out.IsEmpty() {
		t.Fatalf("expected vote past the backpressure cap to be silently dropped, got %+v", out)
	}
	if _, ok := v.state(tip).existingTxVote(1, hashFor(0x12), 9); ok {
		t.Fatalf("expected vote3 not recorded")
	}

	// Re-voting on an already-counted tx-id (same payload) is still a no-op,
	// not a backpressure rejection -- it shouldn't be treated any
	// differently than ordinary duplicate handling.
	dup := v.ApplyTxVote(vote1)
	if !dup.IsEmpty() {
		t.Fatalf("expected duplicate re-apply to stay a no-op, got %+v", dup)
	}
}

// TestMaxNotVotedTxsToKeepBackpressure exercises §6's maxNotVotedTxsToKeep:
// once the cache already holds that many undecided tx bodies, a new one is
// dropped instead of cached.
func TestMaxNotVotedTxsToKeepBackpressure(t *testing.T) {
	params := testParams(4, 3)
	params.MaxNotVotedTxsToKeep = 1
	tip := hashFor(0x01)
	v := NewVoter(params, permissiveHooks(), 0, true, tip)

	tx1 := Tx{ID: hashFor(0x20)}
	tx2 := Tx{ID: hashFor(0x21)}

	v.ApplyTx(tx1)
	if !v.HasTx(tx1.ID) {
		t.Fatalf("expected tx1 cached")
	}
	v.ApplyTx(tx2)
	if v.HasTx(tx2.ID) {
		t.Fatalf("expected tx2 dropped: already at the undecided-tx cap")
	}
}

// TestCommittedSetPoolsDepthWindow exercises §3's "Committed set at (tip,
// round, depth-window)": a tx with votes split across the current tip and
// one ancestor tip commits once the pooled YES count reaches quorum, but
// not before, and a voter's YES is only counted once even if it shows up at
// both tips.
func TestCommittedSetPoolsDepthWindow(t *testing.T) {
	params := testParams(4, 3)
	params.VotingMemory = 1
	tip := hashFor(0x02)
	prev := hashFor(0x01)

	hooks := permissiveHooks()
	hooks.GetPrevBlock = func(h [32]byte) [32]byte {
		if h == tip {
			return prev
		}
		return [32]byte{}
	}
	v := NewVoter(params, hooks, 0, true, tip)

	txID := hashFor(0x30)
	tx := Tx{ID: txID}
	v.txs[txID] = tx // pretend the body arrived directly, vote bookkeeping only below

	ancestorState := v.state(prev)
	ancestorState.insertTxVote(TxVote{Tip: prev, Round: 1, Voter: 1, TxID: txID, Choice: VoteChoice{Subject: txID, Decision: DecisionYES}})
	ancestorState.insertTxVote(TxVote{Tip: prev, Round: 1, Voter: 2, TxID: txID, Choice: VoteChoice{Subject: txID, Decision: DecisionYES}})

	if len(v.committedTxSet()) != 0 {
		t.Fatalf("expected not yet committed with only 2 pooled YES votes")
	}

	tipState := v.state(tip)
	tipState.insertTxVote(TxVote{Tip: tip, Round: 1, Voter: 3, TxID: txID, Choice: VoteChoice{Subject: txID, Decision: DecisionYES}})

	committed := v.committedTxSet()
	if len(committed) != 1 || committed[txID].ID != txID {
		t.Fatalf("expected tx committed via pooled depth-window vote, got %+v", committed)
	}

	// The same voter repeating its YES at the tip must not double-count.
	tipState.insertTxVote(TxVote{Tip: tip, Round: 1, Voter: 1, TxID: txID, Choice: VoteChoice{Subject: txID, Decision: DecisionYES}})
	if v.pooledTxTally(txID).Pro != 3 {
		t.Fatalf("expected pooled Pro to stay at 3 (voter 1 counted once), got %d", v.pooledTxTally(txID).Pro)
	}
}

func TestRoundStalemateAdvances(t *testing.T) {
	params := testParams(4, 3)
	tip := hashFor(0x01)
	v := NewVoter(params, permissiveHooks(), 0, false, tip)

	if v.CurrentRound() != 1 {
		t.Fatalf("expected round 1 initially, got %d", v.CurrentRound())
	}
	// 2 PASS votes + 2 silent voters: max(pro)=0, total=2, unknown=2 ->
	// 0+2 < 3 is stalemate.
	v.ApplyRoundVote(RoundVote{Tip: tip, Round: 1, Voter: 1, Choice: VoteChoice{Decision: DecisionPASS}})
	out := v.ApplyRoundVote(RoundVote{Tip: tip, Round: 1, Voter: 2, Choice: VoteChoice{Decision: DecisionPASS}})
	_ = out
	if v.CurrentRound() != 2 {
		t.Fatalf("expected round to advance to 2, got %d", v.CurrentRound())
	}
}
