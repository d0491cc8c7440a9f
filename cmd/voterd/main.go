package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rubin.dev/dposvoter/committee"
	"rubin.dev/dposvoter/controller"
	"rubin.dev/dposvoter/dpos"
	"rubin.dev/dposvoter/store"
)

// nopTransport and nopChain are placeholder wiring for a standalone "run":
// the real P2P fanout and PoW chain processor are external collaborators
// (§1) that an embedding node supplies; voterd by itself only demonstrates
// the controller coming up, replaying its store, and polling.
type nopTransport struct{}

func (nopTransport) BroadcastTxVote(dpos.TxVote, []byte)       {}
func (nopTransport) BroadcastRoundVote(dpos.RoundVote, []byte) {}
func (nopTransport) RequestTx([32]byte)                        {}
func (nopTransport) RequestBlock([32]byte)                     {}
func (nopTransport) BroadcastHeartbeat(committee.OperatorKeyID, int64) {}

type nopChain struct{}

func (nopChain) SubmitBlock(b dpos.ViceBlock, approvedBy []dpos.VoterID) error { return nil }

// genesisView is a trivial committee.View that always resolves a single
// snapshot, for first-run operation before any real chain state exists.
type genesisView struct {
	snap committee.Snapshot
}

func (g genesisView) SnapshotAt([32]byte) (committee.Snapshot, bool) { return g.snap, true }
func (g genesisView) GetPrevBlock([32]byte) [32]byte                { return [32]byte{} }

func cmdRun(argv []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dataDir := fs.String("data-dir", DefaultDataDir(), "data directory")
	keystorePath := fs.String("keystore", "", "path to wrapped ed25519 keystore")
	kekHex := fs.String("kek-hex", "", "AES-256 KEK (32 bytes hex) to unwrap the keystore")
	_ = fs.Parse(argv)

	cfg := DefaultConfig()
	cfg.DataDir = *dataDir
	cfg.KeystorePath = *keystorePath
	if err := ValidateConfig(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		return 2
	}

	kek, err := hexDecodeStrict(*kekHex)
	if err != nil || len(kek) != 32 {
		fmt.Fprintln(os.Stderr, "run: --kek-hex must be 32 bytes hex")
		return 2
	}
	signer, err := loadSigner(cfg.KeystorePath, kek)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: load signer:", err)
		return 1
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "votes.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: open store:", err)
		return 1
	}
	defer db.Close()

	var me committee.OperatorKeyID
	copy(me[:], signer.PublicKey())
	genesis := committee.Snapshot{Height: 0, Members: []committee.OperatorKeyID{me}}
	cm := committee.NewAdapter(genesisView{snap: genesis}, cfg.GuaranteesMemory)

	var tip [32]byte
	cm.SetHead(tip, 0)

	voterID, isVoter := cm.IsVoter(tip, me)
	if !isVoter {
		fmt.Fprintln(os.Stderr, "run: local key is not a committee member at genesis")
		return 1
	}

	// Hooks is left empty here deliberately: ValidateTxSet/ValidateBlock/
	// PreValidateTx/AllowArchiving/GetPrevBlock are the PoW chain's concern
	// (§1 "external collaborator"), wired in by whatever node embeds this
	// controller, not by the standalone voterd binary.
	ctrlCfg := controller.Config{
		Params: dpos.Params{
			NumOfVoters:          cfg.NumOfVoters,
			MinQuorum:            cfg.MinQuorum,
			MaxTxVotesFromVoter:  cfg.MaxTxVotesFromVoter,
			MaxNotVotedTxsToKeep: cfg.MaxNotVotedTxsToKeep,
			VotingMemory:         cfg.VotingMemory,
			GuaranteesMemory:     cfg.GuaranteesMemory,
			MaxKeep:              cfg.MaxKeep,
		},
		Me:          me,
		RoundBudget: cfg.RoundBudget,
		PollEvery:   time.Second,
	}
	ctrl, err := controller.New(ctrlCfg, tip, true, dpos.VoterID(voterID), signer, cm, db, nopTransport{}, nopChain{}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: new controller:", err)
		return 1
	}
	if err := ctrl.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "run: start controller:", err)
		return 1
	}
	defer ctrl.Stop()

	fmt.Println("voterd: running, member-id", voterID)
	select {}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: voterd <keymgr|run> [flags]")
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keymgr":
		os.Exit(cmdKeymgrMain(os.Args[2:]))
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	default:
		fmt.Fprintln(os.Stderr, "unknown subcommand:", os.Args[1])
		os.Exit(2)
	}
}
