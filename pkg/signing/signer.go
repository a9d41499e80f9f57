// Package signing implements the pluggable Signer capability set used to
// seal policy entries: a keyless SHA-256 hash chain and an Ed25519
// asymmetric signer. In both variants Sign rejects nil input with
// InvalidArgument, Verify reports false for nil input, and signatures are
// compared in constant time.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/acorndb/policygov/pkg/policyerr"
)

// Signer produces and verifies signatures over an opaque byte string. It is
// the single extension point PolicySeal and PolicyLog depend on; neither
// cares whether signing is keyless hashing or asymmetric cryptography.
type Signer interface {
	// Sign returns the signature over data. Returns KeyMaterialMissing if
	// this instance holds no private key material.
	Sign(data []byte) ([]byte, error)
	// Verify reports whether sig is a valid signature over data. It has no
	// error result: a bad or wrong-length signature and nil data or sig
	// all report false.
	Verify(data, sig []byte) bool
	// AlgorithmName identifies the signer ("SHA256" or "Ed25519") for
	// diagnostics.
	AlgorithmName() string
}

// HashChainSigner is the keyless variant: sign(d) = SHA-256(d), and
// verification recomputes and compares in constant time. There is no
// secret; anyone can "forge" a valid seal, but nobody can forge one that
// doesn't expose its own tampering, because the chain links each seal's
// signature into the next seal's previous_hash.
type HashChainSigner struct{}

// NewHashChainSigner returns a stateless SHA-256 signer.
func NewHashChainSigner() *HashChainSigner {
	return &HashChainSigner{}
}

func (s *HashChainSigner) Sign(data []byte) ([]byte, error) {
	if data == nil {
		return nil, policyerr.NewInvalidArgument("data", "must not be nil")
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

func (s *HashChainSigner) Verify(data, sig []byte) bool {
	if data == nil || sig == nil {
		return false
	}
	sum := sha256.Sum256(data)
	if len(sig) != len(sum) {
		return false
	}
	return subtle.ConstantTimeCompare(sum[:], sig) == 1
}

func (s *HashChainSigner) AlgorithmName() string { return "SHA256" }

// Ed25519Signer wraps an Ed25519 keypair. A Signer constructed with
// NewEd25519Verifier holds only a public key and rejects Sign with
// KeyMaterialMissing; this lets a read-only auditor verify a chain without
// ever touching the private key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey // nil for verify-only instances
	pub  ed25519.PublicKey
}

// NewEd25519Signer constructs a signer/verifier from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, policyerr.NewInvalidArgument("seed", "must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// NewEd25519Verifier constructs a verify-only signer from a 32-byte public
// key. Sign on the result always fails with KeyMaterialMissing.
func NewEd25519Verifier(pub []byte) (*Ed25519Signer, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, policyerr.NewInvalidArgument("pub", "must be 32 bytes")
	}
	cp := make(ed25519.PublicKey, len(pub))
	copy(cp, pub)
	return &Ed25519Signer{pub: cp}, nil
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	if data == nil {
		return nil, policyerr.NewInvalidArgument("data", "must not be nil")
	}
	if s.priv == nil {
		return nil, policyerr.NewKeyMaterialMissing("Ed25519")
	}
	return ed25519.Sign(s.priv, data), nil
}

func (s *Ed25519Signer) Verify(data, sig []byte) bool {
	if data == nil || sig == nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(s.pub, data, sig)
}

func (s *Ed25519Signer) AlgorithmName() string { return "Ed25519" }

// PublicKey returns a defensive copy of the public key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	cp := make(ed25519.PublicKey, len(s.pub))
	copy(cp, s.pub)
	return cp
}

// DeriveSigner deterministically derives a sub-signer from this signer's
// private seed using HKDF-SHA256, keyed by an arbitrary context string
// (e.g. a tenant or ledger id). The derived signer is fully independent:
// recovering it requires the master seed, never the derived seed alone.
// Key lifecycle (rotation, storage, revocation) remains the embedder's
// responsibility; this only deterministically reproduces a sub-key from
// an already-injected seed.
func (s *Ed25519Signer) DeriveSigner(context string) (*Ed25519Signer, error) {
	if s.priv == nil {
		return nil, policyerr.NewKeyMaterialMissing("Ed25519")
	}
	if context == "" {
		return nil, policyerr.NewInvalidArgument("context", "must not be empty")
	}
	reader := hkdf.New(sha256.New, s.priv.Seed(), []byte("acorndb-policygov-kdf"), []byte(context))
	derivedSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, derivedSeed); err != nil {
		return nil, err
	}
	return NewEd25519Signer(derivedSeed)
}
