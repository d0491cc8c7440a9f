package controller

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"rubin.dev/dposvoter/committee"
	"rubin.dev/dposvoter/crypto"
	"rubin.dev/dposvoter/dpos"
	"rubin.dev/dposvoter/store"
)

type fakeTransport struct {
	txVotes    []dpos.TxVote
	roundVotes []dpos.RoundVote
}

func (f *fakeTransport) BroadcastTxVote(v dpos.TxVote, sig []byte)       { f.txVotes = append(f.txVotes, v) }
func (f *fakeTransport) BroadcastRoundVote(v dpos.RoundVote, sig []byte) { f.roundVotes = append(f.roundVotes, v) }
func (f *fakeTransport) RequestTx(id [32]byte)                          {}
func (f *fakeTransport) RequestBlock(hash [32]byte)                     {}
func (f *fakeTransport) BroadcastHeartbeat(sender committee.OperatorKeyID, timestampMillis int64) {
}

type fakeChain struct {
	submitted []dpos.ViceBlock
}

func (f *fakeChain) SubmitBlock(b dpos.ViceBlock, approvedBy []dpos.VoterID) error {
	f.submitted = append(f.submitted, b)
	return nil
}

type fakeView struct {
	snap committee.Snapshot
}

func (v *fakeView) SnapshotAt(blockHash [32]byte) (committee.Snapshot, bool) { return v.snap, true }
func (v *fakeView) GetPrevBlock(blockHash [32]byte) [32]byte                { return [32]byte{} }

func permissiveHooks() dpos.Hooks {
	return dpos.Hooks{
		PreValidateTx: func(dpos.Tx, uint32) bool { return true },
		ValidateTxSet: func(map[[32]byte]dpos.Tx) bool { return true },
		ValidateBlock: func(dpos.ViceBlock, map[[32]byte]dpos.Tx, bool) bool { return true },
	}
}

func newTestController(t *testing.T, tip [32]byte) (*Controller, []*crypto.Ed25519Signer, *fakeTransport, *fakeChain) {
	t.Helper()
	const n = 4
	signers := make([]*crypto.Ed25519Signer, n)
	members := make([]committee.OperatorKeyID, n)
	for i := 0; i < n; i++ {
		s, err := crypto.GenerateEd25519Signer()
		if err != nil {
			t.Fatalf("generate signer: %v", err)
		}
		signers[i] = s
		var id committee.OperatorKeyID
		copy(id[:], s.PublicKey())
		members[i] = id
	}
	view := &fakeView{snap: committee.Snapshot{Height: 1, Members: members}}
	cm := committee.NewAdapter(view, 10)
	cm.SetHead(tip, 1)

	db, err := store.Open(filepath.Join(t.TempDir(), "votes.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	transport := &fakeTransport{}
	chain := &fakeChain{}
	cfg := Config{
		Params:      dpos.Params{NumOfVoters: n, MinQuorum: 3},
		Hooks:       permissiveHooks(),
		RoundBudget: time.Hour,
		PollEvery:   time.Hour,
	}
	ctrl, err := New(cfg, tip, true, 0, signers[0], cm, db, transport, chain, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ctrl, signers, transport, chain
}

func TestIngestRoundVoteRejectsBadSignature(t *testing.T) {
	tip := [32]byte{0xAA}
	ctrl, _, _, _ := newTestController(t, tip)

	vote := dpos.RoundVote{Tip: tip, Round: 1, Voter: 1, Choice: dpos.VoteChoice{Decision: dpos.DecisionPASS}}
	var sender committee.OperatorKeyID
	out := ctrl.IngestRoundVote(vote, []byte("not-a-real-signature"), sender)
	if !out.IsEmpty() {
		t.Fatalf("expected empty output for unauthenticated vote, got %+v", out)
	}
}

func TestIngestRoundVoteAcceptsValidSignature(t *testing.T) {
	tip := [32]byte{0xBB}
	ctrl, signers, _, _ := newTestController(t, tip)

	vote := dpos.RoundVote{Tip: tip, Round: 1, Voter: 1, Choice: dpos.VoteChoice{Decision: dpos.DecisionPASS}}
	sig := signers[1].Sign(vote.SigningHash())
	var sender committee.OperatorKeyID
	copy(sender[:], signers[1].PublicKey())

	out := ctrl.IngestRoundVote(vote, sig, sender)
	if len(out.VErrors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.VErrors)
	}
}

// TestBlockToSubmitCarriesRealSignatures exercises the full quorum path and
// checks AggSig is the actual concatenated Ed25519 signatures of the
// approvers, not a stand-in encoding of their voter IDs.
func TestBlockToSubmitCarriesRealSignatures(t *testing.T) {
	tip := [32]byte{0xDD}
	ctrl, signers, _, chain := newTestController(t, tip)

	block := dpos.ViceBlock{Hash: [32]byte{0xEE}, Prev: tip, Round: 1}
	ctrl.ApplyViceBlock(block) // voter 0 (local) casts its own round-vote

	for i := 1; i <= 2; i++ {
		vote := dpos.RoundVote{
			Tip:       tip,
			Round:     1,
			Voter:     dpos.VoterID(i),
			Choice:    dpos.VoteChoice{Subject: block.Hash, Decision: dpos.DecisionYES},
			BlockHash: block.Hash,
		}
		sig := signers[i].Sign(vote.SigningHash())
		var sender committee.OperatorKeyID
		copy(sender[:], signers[i].PublicKey())
		ctrl.IngestRoundVote(vote, sig, sender)
	}

	if len(chain.submitted) != 1 {
		t.Fatalf("expected exactly one submitted block, got %d", len(chain.submitted))
	}
	b := chain.submitted[0]
	if len(b.AggSig) != 3*ed25519.SignatureSize {
		t.Fatalf("expected 3 concatenated signatures (%d bytes), got %d", 3*ed25519.SignatureSize, len(b.AggSig))
	}
	for i := 0; i < 3; i++ {
		got := b.AggSig[i*ed25519.SignatureSize : (i+1)*ed25519.SignatureSize]
		want := signers[i].Sign(dpos.RoundVote{
			Tip:      tip,
			Round:    1,
			Choice:   dpos.VoteChoice{Subject: block.Hash, Decision: dpos.DecisionYES},
			BlockHash: block.Hash,
		}.SigningHash())
		if string(got) != string(want) {
			t.Fatalf("approver %d: AggSig slice does not match its round-vote signature", i)
		}
	}
}

func TestIngestRoundVoteDeduplicatesViaRelay(t *testing.T) {
	tip := [32]byte{0xCC}
	ctrl, signers, _, _ := newTestController(t, tip)

	vote := dpos.RoundVote{Tip: tip, Round: 1, Voter: 1, Choice: dpos.VoteChoice{Decision: dpos.DecisionPASS}}
	sig := signers[1].Sign(vote.SigningHash())
	var sender committee.OperatorKeyID
	copy(sender[:], signers[1].PublicKey())

	_ = ctrl.IngestRoundVote(vote, sig, sender)
	out := ctrl.IngestRoundVote(vote, sig, sender)
	if !out.IsEmpty() {
		t.Fatalf("expected relay de-dup to suppress second identical ingest, got %+v", out)
	}
}
