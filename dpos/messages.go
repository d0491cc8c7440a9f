package dpos

// Decision is the choice a voter casts on a subject (§3 VoteChoice).
type Decision uint8

const (
	DecisionYES Decision = iota + 1
	DecisionPASS
	DecisionNO
)

func (d Decision) String() string {
	switch d {
	case DecisionYES:
		return "YES"
	case DecisionPASS:
		return "PASS"
	case DecisionNO:
		return "NO"
	default:
		return "UNKNOWN"
	}
}

func (d Decision) valid() bool {
	switch d {
	case DecisionYES, DecisionPASS, DecisionNO:
		return true
	default:
		return false
	}
}

// VoteChoice pairs a decision with the hash of the subject it applies to.
// For round votes only YES and PASS are legal, and PASS must carry an
// all-zero Subject (§3 invariant).
type VoteChoice struct {
	Subject  [32]byte
	Decision Decision
}

func (c VoteChoice) isZeroSubject() bool {
	return c.Subject == [32]byte{}
}

// Round is an unsigned round counter, >= 1 (§3).
type Round uint64

// VoterID identifies a committee member deterministically (§4.F).
type VoterID uint32

// TxVote is a voter's choice on an instant transaction at (tip, round) (§3).
type TxVote struct {
	Tip     [32]byte
	Round   Round
	Voter   VoterID
	Choice  VoteChoice
	TxID    [32]byte // redundant with Choice.Subject, kept for lookup clarity
}

// RoundVote is a voter's choice on a vice-block at (tip, round) (§3).
type RoundVote struct {
	Tip      [32]byte
	Round    Round
	Voter    VoterID
	Choice   VoteChoice
	BlockHash [32]byte // redundant with Choice.Subject on YES; zero on PASS
}

// ViceBlock is a block proposal pinned to (tip, round), awaiting quorum
// signatures (§3). The Body is opaque to the core; validity is delegated to
// Hooks.ValidateBlock.
type ViceBlock struct {
	Hash        [32]byte
	Prev        [32]byte
	Round       Round
	TxIDs       [][32]byte // transactions the proposer claims to carry
	Body        []byte     // opaque encoded block (header+body), for the hook
	AggSig      []byte     // empty until quorum; filled in by the controller
}

// BlockToSubmit is the voter's output when a vice-block reaches quorum at the
// current round (§2 Flow, §4.D tryToSubmitBlock).
type BlockToSubmit struct {
	Block      ViceBlock
	ApprovedBy []VoterID
}

// wellFormedTxVote checks §4.D applyTxVote well-formedness: non-zero round,
// standard decision, and a subject equal to the tx-id. YES, NO and PASS are
// all legal tx-vote decisions (§3); unlike a round-vote PASS, a tx-vote PASS
// still names the transaction it abstains on.
func wellFormedTxVote(v TxVote) bool {
	if v.Round == 0 {
		return false
	}
	if !v.Choice.Decision.valid() {
		return false
	}
	return v.Choice.Subject == v.TxID
}

func wellFormedRoundVote(v RoundVote) bool {
	if v.Round == 0 {
		return false
	}
	switch v.Choice.Decision {
	case DecisionYES:
		return v.Choice.Subject == v.BlockHash && !v.Choice.isZeroSubject()
	case DecisionPASS:
		return v.Choice.isZeroSubject() && v.BlockHash == [32]byte{}
	default:
		return false
	}
}

// wellFormedViceBlock checks §4.D applyViceBlock structural validation: the
// proposer must have left the signature slot empty, and round must be >= 1.
func wellFormedViceBlock(b ViceBlock) bool {
	if b.Round == 0 {
		return false
	}
	if len(b.AggSig) != 0 {
		return false
	}
	return true
}

// IdentityHash returns the content-addressed hash used to deduplicate
// TxVotes (§4.A: "identity hash is a pure function of content; two messages
// with equal identity hashes are considered duplicates").
func (v TxVote) IdentityHash() [32]byte {
	buf := make([]byte, 0, 32+8+4+1+32)
	buf = append(buf, v.Tip[:]...)
	buf = AppendU64le(buf, uint64(v.Round))
	buf = AppendU32le(buf, uint32(v.Voter))
	buf = append(buf, byte(v.Choice.Decision))
	buf = append(buf, v.Choice.Subject[:]...)
	return sha3_256(buf)
}

func (v RoundVote) IdentityHash() [32]byte {
	buf := make([]byte, 0, 32+8+4+1+32)
	buf = append(buf, v.Tip[:]...)
	buf = AppendU64le(buf, uint64(v.Round))
	buf = AppendU32le(buf, uint32(v.Voter))
	buf = append(buf, byte(v.Choice.Decision))
	buf = append(buf, v.Choice.Subject[:]...)
	return sha3_256(buf)
}

func (b ViceBlock) IdentityHash() [32]byte {
	return b.Hash
}

// SigningHash is the message hash over which the voter's signature is
// computed (§4.A). It binds (tip, round, choice, type-specific salt) so that
// a signature over one vote type can never be replayed as another.
func (v TxVote) SigningHash() [32]byte {
	buf := make([]byte, 0, 16+32+8+1+32)
	buf = append(buf, saltTxVote[:]...)
	buf = append(buf, v.Tip[:]...)
	buf = AppendU64le(buf, uint64(v.Round))
	buf = append(buf, byte(v.Choice.Decision))
	buf = append(buf, v.Choice.Subject[:]...)
	return sha3_256(buf)
}

func (v RoundVote) SigningHash() [32]byte {
	buf := make([]byte, 0, 16+32+8+1+32)
	buf = append(buf, saltRoundVote[:]...)
	buf = append(buf, v.Tip[:]...)
	buf = AppendU64le(buf, uint64(v.Round))
	buf = append(buf, byte(v.Choice.Decision))
	buf = append(buf, v.Choice.Subject[:]...)
	return sha3_256(buf)
}

// samePayload reports whether two votes carry an identical payload for the
// same (voter, round, tip, subject) key -- used to distinguish a harmless
// duplicate retransmission from a doublesign (§4.D, §7).
func (v TxVote) samePayload(other TxVote) bool {
	return v.Choice == other.Choice
}

func (v RoundVote) samePayload(other RoundVote) bool {
	return v.Choice == other.Choice
}
