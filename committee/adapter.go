// Package committee implements §4.F: the committee-membership adapter.
// Given a block hash it yields the mapping (committee-member-id ->
// operator-key-id) that was committee at that height, tolerating hashes of
// ancestors within the keep window. The membership at a tip is the
// authoritative source of truth for authenticating votes that reference
// that tip.
package committee

import (
	"errors"
	"sync"
)

// ErrUnknownBlock is returned for a hash outside the keep window (§4.F), and
// by MemberID for a key that is not in the committee at that hash.
var ErrUnknownBlock = errors.New("committee: unknown block")

// OperatorKeyID identifies an operator by its 32-byte public key (the
// controller verifies vote signatures against these bytes directly),
// independent of its rotating committee-member slot.
type OperatorKeyID [32]byte

// Snapshot is the committee recorded for a given block, ordered by
// committee-member ID (§3 Committee / team: "fixed-size ordered set").
type Snapshot struct {
	Height  uint64
	Members []OperatorKeyID // index == committee-member ID
}

func (s Snapshot) MemberID(key OperatorKeyID) (uint32, bool) {
	for i, m := range s.Members {
		if m == key {
			return uint32(i), true
		}
	}
	return 0, false
}

// View is the external source of truth the adapter reads from: it supplies
// committee snapshots by block hash and the ancestor walk needed to bound
// the keep window. This is the committee-selection-policy collaborator
// spec.md places out of scope (§1) -- the adapter only consumes it.
type View interface {
	SnapshotAt(blockHash [32]byte) (Snapshot, bool)
	GetPrevBlock(blockHash [32]byte) [32]byte
}

// Adapter resolves a tip hash to its committee, tolerating ancestors within
// maxKeep blocks of the view's current head (§4.F).
type Adapter struct {
	mu      sync.RWMutex
	view    View
	maxKeep uint64
	head    [32]byte
	heights map[[32]byte]uint64
}

func NewAdapter(view View, maxKeep uint64) *Adapter {
	return &Adapter{
		view:    view,
		maxKeep: maxKeep,
		heights: make(map[[32]byte]uint64),
	}
}

// SetHead records the current best-chain head, used to bound how far back
// an ancestor hash may be resolved.
func (a *Adapter) SetHead(head [32]byte, height uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head = head
	a.heights[head] = height
}

// CommitteeAt resolves blockHash to its committee snapshot. It returns
// ErrUnknownBlock if blockHash cannot be reached by walking back from the
// recorded head within maxKeep steps.
func (a *Adapter) CommitteeAt(blockHash [32]byte) (Snapshot, error) {
	a.mu.RLock()
	head := a.head
	a.mu.RUnlock()

	cur := head
	for steps := uint64(0); steps <= a.maxKeep; steps++ {
		if cur == blockHash {
			snap, ok := a.view.SnapshotAt(blockHash)
			if !ok {
				return Snapshot{}, ErrUnknownBlock
			}
			return snap, nil
		}
		prev := a.view.GetPrevBlock(cur)
		if prev == ([32]byte{}) {
			break
		}
		cur = prev
	}
	return Snapshot{}, ErrUnknownBlock
}

// MemberID resolves an operator key to its committee-member ID at
// blockHash, used by the controller's identity-resolution step (§4.E).
func (a *Adapter) MemberID(blockHash [32]byte, key OperatorKeyID) (uint32, error) {
	snap, err := a.CommitteeAt(blockHash)
	if err != nil {
		return 0, err
	}
	id, ok := snap.MemberID(key)
	if !ok {
		return 0, ErrUnknownBlock
	}
	return id, nil
}

// IsVoter reports whether key sits in the committee at blockHash, and at
// which committee-member slot (§4.E "identifies self").
func (a *Adapter) IsVoter(blockHash [32]byte, key OperatorKeyID) (uint32, bool) {
	id, err := a.MemberID(blockHash, key)
	return id, err == nil
}

// Enabled reports whether dPoS is enabled for this committee snapshot:
// its size must equal the configured team size (§4.E "Enable/disable
// gating" condition (b); conditions (a) and (c) are chain-upgrade and
// wall-clock checks the controller layer performs, since they have nothing
// to do with committee membership).
func (s Snapshot) Enabled(configuredTeamSize int) bool {
	return len(s.Members) == configuredTeamSize
}
