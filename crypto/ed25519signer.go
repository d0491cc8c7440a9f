package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Ed25519Signer is the voter's signature backend (SPEC_FULL.md "Signing").
// The teacher's CryptoProvider only exposes verification for the PoW chain's
// post-quantum schemes (ML-DSA-87, SLH-DSA-SHAKE-256f); neither is usable
// here since the spec needs ordinary sign+verify on a 32-byte digest, so this
// follows the same narrow-interface shape with stdlib ed25519 underneath.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateEd25519Signer creates a fresh keypair, for tests and first-run
// keystore provisioning.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// NewEd25519Signer wraps an existing unwrapped private key (as produced by
// the keystore after AES-KW unwrap).
func NewEd25519Signer(priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: bad ed25519 private key size %d", len(priv))
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: ed25519 public key derivation failed")
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

func (s *Ed25519Signer) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}

// RawPrivateKey exposes the full 64-byte seed||pubkey private key, for the
// keystore to wrap with AES-KW. 64 bytes satisfies AES-KW's multiple-of-8
// requirement directly, so the keystore wraps it as-is.
func (s *Ed25519Signer) RawPrivateKey() []byte {
	out := make([]byte, len(s.priv))
	copy(out, s.priv)
	return out
}

// SHA3_256 is exposed for the keystore's key_id derivation (teacher's
// CryptoProvider.SHA3_256, node/keymgr.go).
func SHA3_256(input []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign signs digest32, a 32-byte domain-separated hash produced by
// dpos.TxVote.SigningHash / RoundVote.SigningHash.
func (s *Ed25519Signer) Sign(digest32 [32]byte) []byte {
	return ed25519.Sign(s.priv, digest32[:])
}

// VerifyEd25519 checks a signature produced by Sign against pubkey.
func VerifyEd25519(pubkey []byte, sig []byte, digest32 [32]byte) bool {
	if len(pubkey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubkey), digest32[:], sig)
}
