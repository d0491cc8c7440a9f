package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config mirrors the teacher's flat node.Config shape (node/config.go),
// retargeted to the voter controller's own settings.
type Config struct {
	Network     string        `json:"network"`
	DataDir     string        `json:"data_dir"`
	BindAddr    string        `json:"bind_addr"`
	LogLevel    string        `json:"log_level"`
	Peers       []string      `json:"peers"`
	MaxPeers    int           `json:"max_peers"`
	KeystorePath string       `json:"keystore_path"`
	NumOfVoters uint32        `json:"num_of_voters"`
	MinQuorum   uint32        `json:"min_quorum"`
	RoundBudget time.Duration `json:"round_budget_ms"`

	// The remaining fields are dpos.Params's §6 tunables, surfaced here so a
	// deployment can override them the same way it overrides NumOfVoters/
	// MinQuorum rather than only ever getting zero values.
	MaxTxVotesFromVoter  uint32 `json:"max_tx_votes_from_voter"`
	MaxNotVotedTxsToKeep uint32 `json:"max_not_voted_txs_to_keep"`
	VotingMemory         uint64 `json:"voting_memory"`
	GuaranteesMemory     uint64 `json:"guarantees_memory"`
	MaxKeep              uint64 `json:"max_keep"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".voterd"
	}
	return filepath.Join(home, ".voterd")
}

func DefaultConfig() Config {
	return Config{
		Network:     "devnet",
		DataDir:     DefaultDataDir(),
		BindAddr:    "0.0.0.0:29111",
		LogLevel:    "info",
		MaxPeers:    64,
		NumOfVoters: 32,
		MinQuorum:   23,
		RoundBudget: 10 * time.Second,

		MaxTxVotesFromVoter:  256,
		MaxNotVotedTxsToKeep: 4096,
		VotingMemory:         6,
		GuaranteesMemory:     2000,
		MaxKeep:              100,
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		return errors.New("keystore_path is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 || cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be in (0, 4096]")
	}
	if cfg.NumOfVoters == 0 {
		return errors.New("num_of_voters must be > 0")
	}
	if cfg.MinQuorum == 0 || cfg.MinQuorum > cfg.NumOfVoters {
		return errors.New("min_quorum must be in (0, num_of_voters]")
	}
	return nil
}
