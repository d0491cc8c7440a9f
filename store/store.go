// Package store implements the §6 "Persisted state layout": three indexed
// stores keyed by identity hash (vice-blocks, round-votes, tx-votes) plus
// one store keyed by height holding committee snapshots. Writes are
// append-style; the controller never mutates a stored record in place
// (§3 Lifecycle: "A vote/vice-block is inserted once and never mutated").
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rubin.dev/dposvoter/dpos"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketViceBlocks = []byte("vice_blocks_by_hash")
	bucketRoundVotes = []byte("round_votes_by_hash")
	bucketTxVotes    = []byte("tx_votes_by_hash")
	bucketCommittee  = []byte("committee_by_height")
)

type DB struct {
	db *bolt.DB
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: ensure dir: %w", err)
		}
	}
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt: %w", err)
	}
	d := &DB{db: bdb}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketViceBlocks, bucketRoundVotes, bucketTxVotes, bucketCommittee} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) PutTxVote(v dpos.TxVote) error {
	key := v.IdentityHash()
	val := encodeTxVote(v)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxVotes).Put(key[:], val)
	})
}

func (d *DB) PutRoundVote(v dpos.RoundVote) error {
	key := v.IdentityHash()
	val := encodeRoundVote(v)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoundVotes).Put(key[:], val)
	})
}

func (d *DB) PutViceBlock(b dpos.ViceBlock) error {
	key := b.IdentityHash()
	val := encodeViceBlock(b)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketViceBlocks).Put(key[:], val)
	})
}

// PutCommitteeSnapshot stores the raw, caller-encoded committee snapshot
// bytes for a given height (the committee-selection policy format is an
// external collaborator's concern per §1; the store only persists bytes
// keyed by height).
func (d *DB) PutCommitteeSnapshot(height uint64, raw []byte) error {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], height) // big-endian so bbolt's byte-order iteration is height-ordered
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommittee).Put(key[:], raw)
	})
}

func (d *DB) GetCommitteeSnapshot(height uint64) ([]byte, bool, error) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], height)
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCommittee).Get(key[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// ReplayAll walks every persisted record -- vice-blocks, then tx-votes, then
// round-votes, each bucket in key (identity-hash) order, not insertion
// order -- and hands it to the callbacks, for controller startup replay
// (§4.E Persistence: "On startup, replay them into the voter").
func (d *DB) ReplayAll(onTxVote func(dpos.TxVote) error, onRoundVote func(dpos.RoundVote) error, onViceBlock func(dpos.ViceBlock) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketViceBlocks).ForEach(func(k, v []byte) error {
			b, err := decodeViceBlock(v)
			if err != nil {
				return fmt.Errorf("store: corrupt vice-block record %x: %w", k, err)
			}
			if b.IdentityHash() != mustHash32(k) {
				return fmt.Errorf("store: vice-block identity hash mismatch for key %x", k)
			}
			return onViceBlock(*b)
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTxVotes).ForEach(func(k, v []byte) error {
			tv, err := decodeTxVote(v)
			if err != nil {
				return fmt.Errorf("store: corrupt tx-vote record %x: %w", k, err)
			}
			if tv.IdentityHash() != mustHash32(k) {
				return fmt.Errorf("store: tx-vote identity hash mismatch for key %x", k)
			}
			return onTxVote(*tv)
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketRoundVotes).ForEach(func(k, v []byte) error {
			rv, err := decodeRoundVote(v)
			if err != nil {
				return fmt.Errorf("store: corrupt round-vote record %x: %w", k, err)
			}
			if rv.IdentityHash() != mustHash32(k) {
				return fmt.Errorf("store: round-vote identity hash mismatch for key %x", k)
			}
			return onRoundVote(*rv)
		})
	})
}

// GCTip deletes every persisted vote/vice-block record keyed on tip, for
// the controller's garbage-collection pass once tip falls outside the keep
// window (§4.E polling loop item (iii); §3 invariant 5).
func (d *DB) GCTip(tip [32]byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := deleteMatching(tx.Bucket(bucketViceBlocks), func(v []byte) bool {
			b, err := decodeViceBlock(v)
			return err == nil && b.Prev == tip
		}); err != nil {
			return err
		}
		if err := deleteMatching(tx.Bucket(bucketTxVotes), func(v []byte) bool {
			tv, err := decodeTxVote(v)
			return err == nil && tv.Tip == tip
		}); err != nil {
			return err
		}
		return deleteMatching(tx.Bucket(bucketRoundVotes), func(v []byte) bool {
			rv, err := decodeRoundVote(v)
			return err == nil && rv.Tip == tip
		})
	})
}

func deleteMatching(b *bolt.Bucket, match func(v []byte) bool) error {
	var toDelete [][]byte
	if err := b.ForEach(func(k, v []byte) error {
		if match(v) {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func mustHash32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
