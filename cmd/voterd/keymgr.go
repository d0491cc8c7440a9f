package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"rubin.dev/dposvoter/crypto"
)

// KeyStoreV1 is the voter operator's wrapped-key envelope, following the
// teacher's keystore shape (node/keymgr.go KeyStoreV1) but fixed to suite
// "ed25519" rather than carrying a suite_id byte -- this keystore only ever
// wraps one key type.
type KeyStoreV1 struct {
	Version      string `json:"version"` // "VOTERKSv1"
	Suite        string `json:"suite"`   // "ed25519"
	PubkeyHex    string `json:"pubkey_hex"`
	KeyIDHex     string `json:"key_id_hex"`
	WrapAlg      string `json:"wrap_alg"` // "AES-256-KW"
	WrappedSKHex string `json:"wrapped_sk_hex"`
}

func hexDecodeStrict(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}

func mustLen(b []byte, n int, name string) error {
	if len(b) != n {
		return fmt.Errorf("%s must be %d bytes (got %d)", name, n, len(b))
	}
	return nil
}

func cmdKeymgrGenerate(argv []string) error {
	fs := flag.NewFlagSet("keymgr generate", flag.ExitOnError)
	out := fs.String("out", "", "output keystore json path")
	kekHex := fs.String("kek-hex", "", "AES-256 KEK (32 bytes hex)")
	_ = fs.Parse(argv)
	if *out == "" || *kekHex == "" {
		return fmt.Errorf("missing required flags: --out --kek-hex")
	}
	kek, err := hexDecodeStrict(*kekHex)
	if err != nil {
		return fmt.Errorf("kek-hex: %w", err)
	}
	if err := mustLen(kek, 32, "kek"); err != nil {
		return err
	}

	signer, err := crypto.GenerateEd25519Signer()
	if err != nil {
		return err
	}
	return writeWrappedKeystore(*out, kek, signer)
}

func writeWrappedKeystore(out string, kek []byte, signer *crypto.Ed25519Signer) error {
	wrapped, err := crypto.AESKeyWrapRFC3394(kek, signer.RawPrivateKey())
	if err != nil {
		return err
	}
	keyID := crypto.SHA3_256(signer.PublicKey())

	ks := KeyStoreV1{
		Version:      "VOTERKSv1",
		Suite:        "ed25519",
		PubkeyHex:    hex.EncodeToString(signer.PublicKey()),
		KeyIDHex:     hex.EncodeToString(keyID[:]),
		WrapAlg:      "AES-256-KW",
		WrappedSKHex: hex.EncodeToString(wrapped),
	}
	b, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(out, b, 0o600)
}

func readKeystore(path string) (*KeyStoreV1, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided
	if err != nil {
		return nil, err
	}
	var ks KeyStoreV1
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, err
	}
	if ks.Version != "VOTERKSv1" {
		return nil, fmt.Errorf("unsupported keystore version: %q", ks.Version)
	}
	if ks.Suite != "ed25519" {
		return nil, fmt.Errorf("unsupported suite: %q", ks.Suite)
	}
	if strings.ToUpper(ks.WrapAlg) != "AES-256-KW" {
		return nil, fmt.Errorf("unsupported wrap_alg: %q", ks.WrapAlg)
	}
	return &ks, nil
}

// loadSigner unwraps the keystore's private key with kek and returns a
// ready-to-use signer, for the "run" subcommand.
func loadSigner(path string, kek []byte) (*crypto.Ed25519Signer, error) {
	ks, err := readKeystore(path)
	if err != nil {
		return nil, err
	}
	wrapped, err := hexDecodeStrict(ks.WrappedSKHex)
	if err != nil {
		return nil, fmt.Errorf("wrapped_sk_hex: %w", err)
	}
	plain, err := crypto.AESKeyUnwrapRFC3394(kek, wrapped)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewEd25519Signer(ed25519.PrivateKey(plain))
	if err != nil {
		return nil, err
	}
	pub, err := hexDecodeStrict(ks.PubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("pubkey_hex: %w", err)
	}
	if string(signer.PublicKey()) != string(pub) {
		return nil, fmt.Errorf("keystore pubkey_hex does not match unwrapped key")
	}
	return signer, nil
}

func cmdKeymgrRewrap(argv []string) error {
	fs := flag.NewFlagSet("keymgr rewrap", flag.ExitOnError)
	in := fs.String("in", "", "input keystore json path")
	out := fs.String("out", "", "output keystore json path")
	oldKekHex := fs.String("old-kek-hex", "", "old AES-256 KEK (32 bytes hex)")
	newKekHex := fs.String("new-kek-hex", "", "new AES-256 KEK (32 bytes hex)")
	_ = fs.Parse(argv)
	if *in == "" || *out == "" || *oldKekHex == "" || *newKekHex == "" {
		return fmt.Errorf("missing required flags: --in --out --old-kek-hex --new-kek-hex")
	}
	oldKek, err := hexDecodeStrict(*oldKekHex)
	if err != nil {
		return fmt.Errorf("old-kek-hex: %w", err)
	}
	newKek, err := hexDecodeStrict(*newKekHex)
	if err != nil {
		return fmt.Errorf("new-kek-hex: %w", err)
	}
	if err := mustLen(oldKek, 32, "old-kek"); err != nil {
		return err
	}
	if err := mustLen(newKek, 32, "new-kek"); err != nil {
		return err
	}

	ks, err := readKeystore(*in)
	if err != nil {
		return err
	}
	wrapped, err := hexDecodeStrict(ks.WrappedSKHex)
	if err != nil {
		return fmt.Errorf("wrapped_sk_hex: %w", err)
	}
	plain, err := crypto.AESKeyUnwrapRFC3394(oldKek, wrapped)
	if err != nil {
		return err
	}
	newWrapped, err := crypto.AESKeyWrapRFC3394(newKek, plain)
	if err != nil {
		return err
	}
	ks.WrappedSKHex = hex.EncodeToString(newWrapped)

	b, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(*out, b, 0o600)
}

func cmdKeymgrVerifyPubkey(argv []string) (string, error) {
	fs := flag.NewFlagSet("keymgr verify-pubkey", flag.ExitOnError)
	in := fs.String("in", "", "input keystore json path")
	expectedKeyIDHex := fs.String("expected-key-id-hex", "", "optional expected key_id hex")
	_ = fs.Parse(argv)
	if *in == "" {
		return "", fmt.Errorf("missing required flag: --in")
	}
	ks, err := readKeystore(*in)
	if err != nil {
		return "", err
	}
	pub, err := hexDecodeStrict(ks.PubkeyHex)
	if err != nil {
		return "", fmt.Errorf("pubkey_hex: %w", err)
	}
	keyID := crypto.SHA3_256(pub)
	gotHex := hex.EncodeToString(keyID[:])
	if ks.KeyIDHex != "" && !strings.EqualFold(ks.KeyIDHex, gotHex) {
		return "", fmt.Errorf("keystore key_id mismatch: embedded=%s computed=%s", ks.KeyIDHex, gotHex)
	}
	if *expectedKeyIDHex != "" {
		exp := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(*expectedKeyIDHex), "0x"))
		if exp != gotHex {
			return "", fmt.Errorf("expected key_id mismatch: expected=%s computed=%s", exp, gotHex)
		}
	}
	return gotHex, nil
}

func cmdKeymgrMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: voterd keymgr <subcommand> [flags]")
		return 2
	}
	sub, subargv := argv[0], argv[1:]
	switch sub {
	case "generate":
		if err := cmdKeymgrGenerate(subargv); err != nil {
			fmt.Fprintln(os.Stderr, "keymgr generate error:", err)
			return 1
		}
		fmt.Println("OK")
		return 0
	case "rewrap":
		if err := cmdKeymgrRewrap(subargv); err != nil {
			fmt.Fprintln(os.Stderr, "keymgr rewrap error:", err)
			return 1
		}
		fmt.Println("OK")
		return 0
	case "verify-pubkey":
		out, err := cmdKeymgrVerifyPubkey(subargv)
		if err != nil {
			fmt.Fprintln(os.Stderr, "keymgr verify-pubkey error:", err)
			return 1
		}
		fmt.Println(out)
		return 0
	default:
		fmt.Fprintln(os.Stderr, "unknown keymgr subcommand")
		return 2
	}
}
