package dpos

// Hooks is the narrow set of external collaborators the voter consumes
// (§6 "Hook contracts consumed by the voter"). The core never implements
// consensus, validation, or wall-clock policy itself -- every one of these
// function values is supplied by the embedding chain node. Tests supply pure
// in-memory implementations that model a toy ledger.
type Hooks struct {
	// PreValidateTx is a cheap structural+consensus check; excludes
	// non-instant, shielded, or protocol-metadata transactions.
	PreValidateTx func(tx Tx, expiryWindow uint32) bool

	// ValidateTxSet checks whole-set validity against the current chain
	// view: no input conflict within the set, nor with the chain.
	ValidateTxSet func(set map[[32]byte]Tx) bool

	// ValidateBlock performs contextual and (optionally) PoW-only checks.
	// When fullCheck is false, only the block header is checked.
	ValidateBlock func(b ViceBlock, committed map[[32]byte]Tx, fullCheck bool) bool

	// AllowArchiving reports whether it is safe to keep/accept ancillary
	// data tied to this ancestor.
	AllowArchiving func(blockHash [32]byte) bool

	// GetPrevBlock walks back by one, returning the all-zero hash when
	// unknown.
	GetPrevBlock func(blockHash [32]byte) [32]byte

	// GetTimeMillis returns the current wall-clock time in milliseconds.
	GetTimeMillis func() int64
}

// Tx is the transaction body cache entry (§3 "txs: tx-id -> transaction body
// cache"). Its shape is opaque to the core beyond the input set needed for
// pledge-conflict bookkeeping; everything else about transaction semantics
// lives on the far side of Hooks.
type Tx struct {
	ID     [32]byte
	Inputs []Outpoint
}

// Outpoint is a spent-input reference, used for §3 pledgedInputs bookkeeping.
type Outpoint struct {
	TxID [32]byte
	Vout uint32
}

func (t Tx) inputSet() map[Outpoint]struct{} {
	s := make(map[Outpoint]struct{}, len(t.Inputs))
	for _, o := range t.Inputs {
		s[o] = struct{}{}
	}
	return s
}

func conflicts(a, b Tx) bool {
	bInputs := b.inputSet()
	for _, in := range a.Inputs {
		if _, shared := bInputs[in]; shared {
			return true
		}
	}
	return false
}
