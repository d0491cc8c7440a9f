// Package controller implements §4.E: the thin stateful shell around the
// pure dpos.Voter. It owns the mutex that serializes every call into the
// voter, resolves Output values into concrete wire sends / storage writes /
// chain-processor handoffs, and runs the periodic polling loop described in
// §4.E "Wall-clock coupling".
package controller

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
	"time"

	"rubin.dev/dposvoter/committee"
	"rubin.dev/dposvoter/crypto"
	"rubin.dev/dposvoter/dpos"
	"rubin.dev/dposvoter/store"
)

// Signer produces a voter's signature over a 32-byte domain-separated
// digest (dpos.TxVote.SigningHash / RoundVote.SigningHash) and exposes the
// corresponding public key.
type Signer interface {
	PublicKey() []byte
	Sign(digest32 [32]byte) []byte
}

// ChainProcessor is the external collaborator that actually submits a
// quorum-reached vice-block to the underlying PoW chain (§1: block
// construction, PoW mining, and chain reorg logic live outside this module).
type ChainProcessor interface {
	SubmitBlock(b dpos.ViceBlock, approvedBy []dpos.VoterID) error
}

// Transport is the narrow outbound-messaging surface the controller needs;
// the embedding node supplies the actual network fanout.
type Transport interface {
	BroadcastTxVote(v dpos.TxVote, sig []byte)
	BroadcastRoundVote(v dpos.RoundVote, sig []byte)
	RequestTx(id [32]byte)
	RequestBlock(hash [32]byte)
	BroadcastHeartbeat(sender committee.OperatorKeyID, timestampMillis int64)
}

// Config bundles the construction-time parameters a Controller needs beyond
// what dpos.Params already carries.
type Config struct {
	Params      dpos.Params
	Hooks       dpos.Hooks
	Me          committee.OperatorKeyID
	RoundBudget time.Duration // wall-clock bound before OnRoundTooLong fires (§4.D)
	PollEvery   time.Duration // polling-loop quantum, §4.E "1-second quantum"

	// TeamSize, MaxClockSkew and IBDSuspensionDelay parameterize the
	// Enable/disable gate (§4.E); see ChainInfo and (*Controller).enabled.
	TeamSize           int
	MaxClockSkew       time.Duration
	IBDSuspensionDelay time.Duration
}

// Controller is the serializing shell described in §5 ("not thread-safe"):
// every public method takes mu before touching the embedded *dpos.Voter.
type Controller struct {
	mu sync.Mutex

	cfg       Config
	voter     *dpos.Voter
	signer    Signer
	committee *committee.Adapter
	db        *store.DB
	transport Transport
	chain     ChainProcessor

	relay       *relayCache
	roundScores map[committee.OperatorKeyID]*BanScore
	heartbeats  *Heartbeats
	chainInfo   ChainInfo
	roundSigs   map[roundSigKey][]byte

	lastRoundStart time.Time
	stopPoll       chan struct{}
}

// New constructs a Controller rooted at tip. amIVoter and myVoterID are the
// identity the voter is given; cm resolves other voters' identities
// for relay ban-scoring (§4.E "identifies self"). chainInfo may be nil, in
// which case the Enable/disable gate (§4.E) is always open -- an embedder
// that already gates upstream of ingest need not supply one.
func New(cfg Config, tip [32]byte, amIVoter bool, myVoterID dpos.VoterID, signer Signer, cm *committee.Adapter, db *store.DB, transport Transport, chain ChainProcessor, chainInfo ChainInfo) (*Controller, error) {
	if !cfg.Params.Valid() {
		return nil, fmt.Errorf("controller: invalid params")
	}
	v := dpos.NewVoter(cfg.Params, cfg.Hooks, myVoterID, amIVoter, tip)
	c := &Controller{
		cfg:            cfg,
		voter:          v,
		signer:         signer,
		committee:      cm,
		db:             db,
		transport:      transport,
		chain:          chain,
		chainInfo:      chainInfo,
		relay:          newRelayCache(15 * time.Minute),
		roundScores:    make(map[committee.OperatorKeyID]*BanScore),
		heartbeats:     newHeartbeats(),
		roundSigs:      make(map[roundSigKey][]byte),
		lastRoundStart: time.Now(),
	}
	return c, nil
}

// Start replays persisted state (§4.E Persistence) and launches the
// background polling loop. Stop must be called to release it.
func (c *Controller) Start() error {
	if err := c.replay(); err != nil {
		return fmt.Errorf("controller: replay: %w", err)
	}
	c.stopPoll = make(chan struct{})
	go c.pollLoop()
	return nil
}

func (c *Controller) Stop() {
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
}

func (c *Controller) replay() error {
	return c.db.ReplayAll(
		func(v dpos.TxVote) error { c.applyLocked(func() dpos.Output { return c.voter.ApplyTxVote(v) }); return nil },
		func(v dpos.RoundVote) error { c.applyLocked(func() dpos.Output { return c.voter.ApplyRoundVote(v) }); return nil },
		func(b dpos.ViceBlock) error { c.applyLocked(func() dpos.Output { return c.voter.ApplyViceBlock(b) }); return nil },
	)
}

// applyLocked runs fn under the mutex and dispatches its Output. Every
// public ingest method funnels through this so no two Output dispatches can
// interleave (§5).
func (c *Controller) applyLocked(fn func() dpos.Output) dpos.Output {
	c.mu.Lock()
	out := fn()
	tip := c.voter.Tip()
	c.mu.Unlock()
	c.dispatch(tip, out)
	return out
}

// UpdateTip implements the controller-facing half of §4.D updateTip: swap
// the voter's tip and reset the round timer (a new tip always starts round 1
// per §3 Lifecycle).
func (c *Controller) UpdateTip(newTip [32]byte) {
	c.mu.Lock()
	c.voter.UpdateTip(newTip)
	c.lastRoundStart = time.Now()
	c.mu.Unlock()
}

func (c *Controller) ApplyTx(t dpos.Tx) dpos.Output {
	return c.applyLocked(func() dpos.Output { return c.voter.ApplyTx(t) })
}

func (c *Controller) ApplyViceBlock(b dpos.ViceBlock) dpos.Output {
	if err := c.db.PutViceBlock(b); err != nil {
		return dpos.Output{}
	}
	return c.applyLocked(func() dpos.Output { return c.voter.ApplyViceBlock(b) })
}

// IngestTxVote authenticates vote against the committee snapshot at its tip
// before handing it to the voter, scoring the sender on failure (§4.E
// identity resolution + relay policy).
func (c *Controller) IngestTxVote(vote dpos.TxVote, sig []byte, sender committee.OperatorKeyID) dpos.Output {
	if !c.enabled(vote.Tip) {
		return dpos.Output{}
	}
	if !c.authenticate(vote.Tip, vote.Voter, sender, vote.SigningHash(), sig) {
		c.penalize(sender, scoreBadSignature)
		return dpos.Output{}
	}
	if !c.relay.shouldRelay(vote.IdentityHash()) {
		return dpos.Output{}
	}
	if err := c.db.PutTxVote(vote); err != nil {
		return dpos.Output{}
	}
	out := c.applyLocked(func() dpos.Output { return c.voter.ApplyTxVote(vote) })
	if len(out.VErrors) > 0 {
		c.penalize(sender, scoreProtocolViolation)
	}
	return out
}

func (c *Controller) IngestRoundVote(vote dpos.RoundVote, sig []byte, sender committee.OperatorKeyID) dpos.Output {
	if !c.enabled(vote.Tip) {
		return dpos.Output{}
	}
	if !c.authenticate(vote.Tip, vote.Voter, sender, vote.SigningHash(), sig) {
		c.penalize(sender, scoreBadSignature)
		return dpos.Output{}
	}
	if !c.relay.shouldRelay(vote.IdentityHash()) {
		return dpos.Output{}
	}
	if err := c.db.PutRoundVote(vote); err != nil {
		return dpos.Output{}
	}
	// The signature is recorded only once the voter has accepted the vote
	// (so a rejected doublesign cannot replace it), and before dispatch, so
	// a quorum this vote completes already finds it.
	out := c.applyLocked(func() dpos.Output {
		o := c.voter.ApplyRoundVote(vote)
		if len(o.VErrors) == 0 {
			c.roundSigs[roundSigKey{vote.Tip, vote.Round, vote.Voter}] = sig
		}
		return o
	})
	if len(out.VErrors) > 0 {
		c.penalize(sender, scoreProtocolViolation)
	}
	return out
}

func (c *Controller) authenticate(tip [32]byte, claimedVoter dpos.VoterID, sender committee.OperatorKeyID, digest [32]byte, sig []byte) bool {
	snap, err := c.committee.CommitteeAt(tip)
	if err != nil {
		return false
	}
	id, ok := snap.MemberID(sender)
	if !ok || dpos.VoterID(id) != claimedVoter {
		return false
	}
	return crypto.VerifyEd25519(snap.Members[id][:], sig, digest)
}

// dispatch turns a dpos.Output into concrete side effects: signing+storing+
// broadcasting new votes, requesting missing bodies, and handing a reached
// quorum to the chain processor (§2 Flow). tip is the voter's tip at the
// moment out was produced, captured under the lock by applyLocked so the
// aggregate-signature lookup below can't race a concurrent UpdateTip.
func (c *Controller) dispatch(tip [32]byte, out dpos.Output) {
	for _, v := range out.TxVotes {
		_ = c.db.PutTxVote(v)
		c.transport.BroadcastTxVote(v, c.signer.Sign(v.SigningHash()))
	}
	for _, v := range out.RoundVotes {
		sig := c.signer.Sign(v.SigningHash())
		c.storeRoundVoteSig(v.Tip, v.Round, v.Voter, sig)
		_ = c.db.PutRoundVote(v)
		c.transport.BroadcastRoundVote(v, sig)
	}
	for _, id := range out.FetchTxs {
		c.transport.RequestTx(id)
	}
	for _, h := range out.FetchBlocks {
		c.transport.RequestBlock(h)
	}
	if out.BlockToSubmit != nil {
		b := out.BlockToSubmit.Block
		b.AggSig = c.aggregateSignatures(tip, b, out.BlockToSubmit.ApprovedBy)
		_ = c.chain.SubmitBlock(b, out.BlockToSubmit.ApprovedBy)
	}
}

// aggregateSignatures collects each approver's actual round-vote signature
// out of the received-vote map and concatenates them in ascending voter-id
// order, each one fixed-size (§2 Flow "collects the matching signatures out
// of its received-vote map", §4.E Block assembly). An approver whose
// signature hasn't been seen yet (e.g. it reached quorum via a relayed
// round-vote this node dropped for some other reason) is skipped rather than
// padded, since there is nothing to concatenate for it.
func (c *Controller) aggregateSignatures(tip [32]byte, b dpos.ViceBlock, approvedBy []dpos.VoterID) []byte {
	sorted := append([]dpos.VoterID(nil), approvedBy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]byte, 0, len(sorted)*ed25519.SignatureSize)
	for _, id := range sorted {
		if sig, ok := c.roundVoteSig(tip, b.Round, id); ok {
			out = append(out, sig...)
		}
	}
	return out
}
