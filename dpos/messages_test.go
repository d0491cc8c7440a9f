package dpos

import "testing"

func TestIdentityHashIsPureFunctionOfContent(t *testing.T) {
	v1 := TxVote{Tip: hashFor(1), Round: 1, Voter: 3, TxID: hashFor(9), Choice: VoteChoice{Subject: hashFor(9), Decision: DecisionYES}}
	v2 := v1
	if v1.IdentityHash() != v2.IdentityHash() {
		t.Fatalf("identical content must hash identically")
	}
	v3 := v1
	v3.Choice.Decision = DecisionNO
	if v1.IdentityHash() == v3.IdentityHash() {
		t.Fatalf("differing content must not collide")
	}
}

func TestSigningHashDomainSeparation(t *testing.T) {
	tx := TxVote{Tip: hashFor(1), Round: 1, Choice: VoteChoice{Subject: hashFor(2), Decision: DecisionYES}}
	rv := RoundVote{Tip: hashFor(1), Round: 1, Choice: VoteChoice{Subject: hashFor(2), Decision: DecisionYES}}
	if tx.SigningHash() == rv.SigningHash() {
		t.Fatalf("cross-type replay must be impossible: tx and round vote signing hashes collided")
	}
}

func TestWellFormedRoundVotePassRequiresZeroSubject(t *testing.T) {
	bad := RoundVote{Tip: hashFor(1), Round: 1, Choice: VoteChoice{Subject: hashFor(5), Decision: DecisionPASS}}
	if wellFormedRoundVote(bad) {
		t.Fatalf("PASS with non-zero subject must be malformed")
	}
	good := RoundVote{Tip: hashFor(1), Round: 1, Choice: VoteChoice{Decision: DecisionPASS}}
	if !wellFormedRoundVote(good) {
		t.Fatalf("PASS with zero subject must be well-formed")
	}
}

func TestWellFormedRoundVoteRejectsNO(t *testing.T) {
	bad := RoundVote{Tip: hashFor(1), Round: 1, Choice: VoteChoice{Subject: hashFor(5), Decision: DecisionNO}}
	if wellFormedRoundVote(bad) {
		t.Fatalf("round-votes must only allow YES/PASS")
	}
}

func TestWellFormedViceBlockRejectsPrefilledSignature(t *testing.T) {
	b := ViceBlock{Hash: hashFor(1), Round: 1, AggSig: []byte{0x01}}
	if wellFormedViceBlock(b) {
		t.Fatalf("vice-block with a pre-filled signature slot must be malformed")
	}
}

func TestWellFormedViceBlockRejectsZeroRound(t *testing.T) {
	b := ViceBlock{Hash: hashFor(1), Round: 0}
	if wellFormedViceBlock(b) {
		t.Fatalf("round 0 must be malformed")
	}
}
