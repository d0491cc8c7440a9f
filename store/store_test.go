package store

import (
	"path/filepath"
	"testing"

	"rubin.dev/dposvoter/dpos"
)

func hashFor(b byte) [32]byte {
	var h [32]byte
	h[31] = b
	return h
}

func TestDBPutReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "votes.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tip := hashFor(0x01)
	txv := dpos.TxVote{Tip: tip, Round: 1, Voter: 3, TxID: hashFor(0x02), Choice: dpos.VoteChoice{Subject: hashFor(0x02), Decision: dpos.DecisionYES}}
	rv := dpos.RoundVote{Tip: tip, Round: 1, Voter: 3, Choice: dpos.VoteChoice{Subject: hashFor(0x03), Decision: dpos.DecisionYES}, BlockHash: hashFor(0x03)}
	vb := dpos.ViceBlock{Hash: hashFor(0x03), Prev: tip, Round: 1, TxIDs: [][32]byte{hashFor(0x02)}, Body: []byte("hdr")}

	if err := db.PutTxVote(txv); err != nil {
		t.Fatalf("PutTxVote: %v", err)
	}
	if err := db.PutRoundVote(rv); err != nil {
		t.Fatalf("PutRoundVote: %v", err)
	}
	if err := db.PutViceBlock(vb); err != nil {
		t.Fatalf("PutViceBlock: %v", err)
	}

	var gotTx []dpos.TxVote
	var gotRound []dpos.RoundVote
	var gotBlocks []dpos.ViceBlock
	err = db.ReplayAll(
		func(v dpos.TxVote) error { gotTx = append(gotTx, v); return nil },
		func(v dpos.RoundVote) error { gotRound = append(gotRound, v); return nil },
		func(b dpos.ViceBlock) error { gotBlocks = append(gotBlocks, b); return nil },
	)
	if err != nil {
		t.Fatalf("ReplayAll: %v", err)
	}
	if len(gotTx) != 1 || gotTx[0].TxID != txv.TxID {
		t.Fatalf("tx-vote replay mismatch: %+v", gotTx)
	}
	if len(gotRound) != 1 || gotRound[0].BlockHash != rv.BlockHash {
		t.Fatalf("round-vote replay mismatch: %+v", gotRound)
	}
	if len(gotBlocks) != 1 || gotBlocks[0].Hash != vb.Hash || len(gotBlocks[0].TxIDs) != 1 {
		t.Fatalf("vice-block replay mismatch: %+v", gotBlocks)
	}
}

func TestGCTipRemovesOnlyMatchingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "votes.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tipOld := hashFor(0x01)
	tipNew := hashFor(0x02)
	_ = db.PutTxVote(dpos.TxVote{Tip: tipOld, Round: 1, Voter: 1, TxID: hashFor(0x10), Choice: dpos.VoteChoice{Subject: hashFor(0x10), Decision: dpos.DecisionYES}})
	_ = db.PutTxVote(dpos.TxVote{Tip: tipNew, Round: 1, Voter: 1, TxID: hashFor(0x11), Choice: dpos.VoteChoice{Subject: hashFor(0x11), Decision: dpos.DecisionYES}})

	if err := db.GCTip(tipOld); err != nil {
		t.Fatalf("GCTip: %v", err)
	}

	var gotTx []dpos.TxVote
	_ = db.ReplayAll(
		func(v dpos.TxVote) error { gotTx = append(gotTx, v); return nil },
		func(dpos.RoundVote) error { return nil },
		func(dpos.ViceBlock) error { return nil },
	)
	if len(gotTx) != 1 || gotTx[0].Tip != tipNew {
		t.Fatalf("expected only tipNew record to survive GC, got %+v", gotTx)
	}
}

func TestCommitteeSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "votes.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PutCommitteeSnapshot(42, []byte("snapshot-bytes")); err != nil {
		t.Fatalf("PutCommitteeSnapshot: %v", err)
	}
	got, ok, err := db.GetCommitteeSnapshot(42)
	if err != nil || !ok {
		t.Fatalf("GetCommitteeSnapshot: ok=%v err=%v", ok, err)
	}
	if string(got) != "snapshot-bytes" {
		t.Fatalf("mismatch: %q", got)
	}
	_, ok, err = db.GetCommitteeSnapshot(43)
	if err != nil || ok {
		t.Fatalf("expected miss for unknown height")
	}
}
