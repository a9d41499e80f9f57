// Package seal implements PolicySeal: the immutable, signed ledger entry
// and its canonical signature-input encoding. A PolicySeal links to its
// predecessor by embedding the predecessor's signature as previous_hash,
// which is what turns an ordered list of seals into a tamper-evident hash
// chain (see pkg/policylog for the chain itself).
package seal

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/acorndb/policygov/pkg/policyerr"
	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/signing"
)

// HashSize is the width in bytes of previous_hash and root_chain_hash.
const HashSize = 32

// ZeroHash is the 32 zero bytes used for previous_hash at genesis and for
// an unset root_chain_hash.
var ZeroHash = [HashSize]byte{}

// canonicalLayout is the fixed ISO-8601 rendering used in the canonical
// signature input, per spec §9 Open Questions: always UTC, always 7
// fractional digits, zero-padded so two equal instants encode identically
// regardless of how much sub-second precision the caller supplied.
const canonicalLayout = "2006-01-02T15:04:05.0000000Z"

// PolicySeal is an immutable, signed ledger entry. Every accessor returns
// a defensive copy of any byte slice so callers cannot mutate interior
// state; the zero value is not a valid seal (use Create or Reconstruct).
type PolicySeal struct {
	index         uint32
	effectiveAt   time.Time
	previousHash  [HashSize]byte
	policy        policyrule.Rule
	rootChainHash [HashSize]byte
	signature     []byte
}

// Index returns the 0-based sequence position.
func (s *PolicySeal) Index() uint32 { return s.index }

// EffectiveAt returns the instant at which the sealed policy takes effect.
func (s *PolicySeal) EffectiveAt() time.Time { return s.effectiveAt }

// PreviousHash returns a defensive copy of previous_hash: PreviousHashFor
// of the previous seal's signature (the signature itself when it is 32
// bytes), or 32 zero bytes at genesis.
func (s *PolicySeal) PreviousHash() []byte {
	cp := make([]byte, HashSize)
	copy(cp, s.previousHash[:])
	return cp
}

// Policy returns the sealed policy rule.
func (s *PolicySeal) Policy() policyrule.Rule { return s.policy }

// RootChainHash returns a defensive copy of the storage-pipeline
// fingerprint recorded at seal time (32 zero bytes if unused).
func (s *PolicySeal) RootChainHash() []byte {
	cp := make([]byte, HashSize)
	copy(cp, s.rootChainHash[:])
	return cp
}

// Signature returns a defensive copy of the signer's output (32 bytes for
// SHA-256, 64 for Ed25519).
func (s *PolicySeal) Signature() []byte {
	cp := make([]byte, len(s.signature))
	copy(cp, s.signature)
	return cp
}

// SignatureBytes satisfies pkg/merkle's SealLike interface.
func (s *PolicySeal) SignatureBytes() []byte { return s.Signature() }

// Create seals policy, signing it with signer. previous is nil at
// genesis. effectiveAt must not be earlier than previous's effective_at
// (S3); callers that need the "must be UTC" check (spec §4.4 step 1,
// which is PolicyLog's responsibility since it is the only caller that
// can reject before taking the write lock) should perform it before
// calling Create.
func Create(policy policyrule.Rule, effectiveAt time.Time, previous *PolicySeal, signer signing.Signer, rootChainHash []byte) (*PolicySeal, error) {
	if policy == nil {
		return nil, policyerr.NewInvalidArgument("policy", "must not be nil")
	}
	if signer == nil {
		return nil, policyerr.NewInvalidArgument("signer", "must not be nil")
	}

	var index uint32
	var prevHash [HashSize]byte
	if previous != nil {
		index = previous.index + 1
		if effectiveAt.Before(previous.effectiveAt) {
			return nil, policyerr.NewInvalidArgument("effectiveAt", "must not precede the previous seal's effective_at")
		}
		prevHash = PreviousHashFor(previous.signature)
	}

	var rootHash [HashSize]byte
	if rootChainHash != nil {
		if len(rootChainHash) != HashSize {
			return nil, policyerr.NewInvalidArgument("rootChainHash", "must be 32 bytes when provided")
		}
		copy(rootHash[:], rootChainHash)
	}

	input, err := canonicalInput(policy, effectiveAt, prevHash[:], index, rootHash[:])
	if err != nil {
		return nil, fmt.Errorf("seal: canonicalize signature input: %w", err)
	}
	sig, err := signer.Sign(input)
	if err != nil {
		return nil, fmt.Errorf("seal: sign: %w", err)
	}

	return &PolicySeal{
		index:         index,
		effectiveAt:   effectiveAt,
		previousHash:  prevHash,
		policy:        policy,
		rootChainHash: rootHash,
		signature:     sig,
	}, nil
}

// Reconstruct rebuilds a seal from previously persisted fields without
// re-signing, for the file log's trust-on-load reload path (spec §4.4).
// Cryptographic correctness is established later, on demand, by
// VerifySignature.
func Reconstruct(index uint32, effectiveAt time.Time, previousHash []byte, policy policyrule.Rule, rootChainHash []byte, signature []byte) (*PolicySeal, error) {
	if policy == nil {
		return nil, policyerr.NewInvalidArgument("policy", "must not be nil")
	}
	if len(previousHash) != HashSize {
		return nil, policyerr.NewInvalidArgument("previousHash", "must be 32 bytes")
	}
	var prevHash, rootHash [HashSize]byte
	copy(prevHash[:], previousHash)
	if rootChainHash != nil {
		if len(rootChainHash) != HashSize {
			return nil, policyerr.NewInvalidArgument("rootChainHash", "must be 32 bytes when provided")
		}
		copy(rootHash[:], rootChainHash)
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)

	return &PolicySeal{
		index:         index,
		effectiveAt:   effectiveAt,
		previousHash:  prevHash,
		policy:        policy,
		rootChainHash: rootHash,
		signature:     sig,
	}, nil
}

// VerifySignature re-encodes this seal's canonical signature input and
// verifies it against its stored signature.
func (s *PolicySeal) VerifySignature(signer signing.Signer) bool {
	input, err := canonicalInput(s.policy, s.effectiveAt, s.previousHash[:], s.index, s.rootChainHash[:])
	if err != nil {
		return false
	}
	return signer.Verify(input, s.signature)
}

// PreviousHashMatches reports, in constant time, whether this seal's
// previous_hash was derived from previousSignature (the raw signature of
// the seal immediately before this one, or 32 zero bytes at genesis).
func (s *PolicySeal) PreviousHashMatches(previousSignature []byte) bool {
	derived := PreviousHashFor(previousSignature)
	return subtle.ConstantTimeCompare(s.previousHash[:], derived[:]) == 1
}

// PreviousHashFor derives the fixed 32-byte previous_hash value stored in
// a seal from the raw signature of its predecessor. A 32-byte signature
// (the keyless SHA-256 signer's output, or the genesis all-zero
// placeholder) is used as-is, satisfying S2's literal
// "previous_hash == previous signature" for the common case; a
// longer signature (e.g. Ed25519's 64 bytes) is folded down with SHA-256
// so previous_hash always fits in 32 bytes regardless of which signer
// produced it.
func PreviousHashFor(previousSignature []byte) [HashSize]byte {
	if len(previousSignature) == HashSize {
		var h [HashSize]byte
		copy(h[:], previousSignature)
		return h
	}
	return sha256.Sum256(previousSignature)
}

// canonicalSignatureInput is the deterministic, field-order-fixed
// structure signed over. Free-text fields are NFC-normalized before
// canonicalization so two byte-distinct-but-equivalent Unicode
// representations of the same policy name hash identically.
type canonicalSignatureInput struct {
	PolicyTypeID      string `json:"policy_type_id"`
	PolicyName        string `json:"policy_name"`
	PolicyDescription string `json:"policy_description"`
	PolicyPriority    int32  `json:"policy_priority"`
	EffectiveAt       string `json:"effective_at"`
	PreviousHash      string `json:"previous_hash"`
	Index             uint32 `json:"index"`
	RootChainHash     string `json:"root_chain_hash"`
}

func canonicalInput(policy policyrule.Rule, effectiveAt time.Time, previousHash []byte, index uint32, rootChainHash []byte) ([]byte, error) {
	in := canonicalSignatureInput{
		PolicyTypeID:      string(policy.TypeID()),
		PolicyName:        norm.NFC.String(policy.Name()),
		PolicyDescription: norm.NFC.String(policy.Description()),
		PolicyPriority:    policy.Priority(),
		EffectiveAt:       effectiveAt.UTC().Format(canonicalLayout),
		PreviousHash:      base64.StdEncoding.EncodeToString(previousHash),
		Index:             index,
		RootChainHash:     base64.StdEncoding.EncodeToString(rootChainHash),
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	// RFC 8785 JSON Canonicalization Scheme: fixes key order and number
	// formatting so byte-identical structures always produce
	// byte-identical output, independent of encoding/json's own
	// (already-deterministic-for-structs, but unenforced-by-contract)
	// behavior.
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}
	return canonical, nil
}
