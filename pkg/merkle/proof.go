package merkle

import (
	"crypto/subtle"

	"github.com/acorndb/policygov/pkg/policyerr"
)

// ProofStep is one level of an inclusion proof: the sibling hash at that
// level and whether the sibling sits to the left of the node being
// folded.
type ProofStep struct {
	SiblingHash []byte
	IsLeft      bool
}

// MerkleProof is a self-contained inclusion proof: it can be verified
// without access to the source tree via Verify.
type MerkleProof struct {
	LeafIndex int
	LeafHash  []byte
	Siblings  []ProofStep
	RootHash  []byte
}

// Verify folds Siblings onto LeafHash and compares the result to RootHash
// in constant time. It hashes fixed-size copies of LeafHash, each
// SiblingHash and RootHash and never writes to the proof's slices, so
// verifying a proof does not alter it. Any hash that is not HashSize bytes
// makes it report false.
func (p *MerkleProof) Verify() bool {
	if len(p.LeafHash) != HashSize || len(p.RootHash) != HashSize {
		return false
	}
	var current [HashSize]byte
	copy(current[:], p.LeafHash)

	for _, step := range p.Siblings {
		if len(step.SiblingHash) != HashSize {
			return false
		}
		var sibling [HashSize]byte
		copy(sibling[:], step.SiblingHash)
		if step.IsLeft {
			current = HashPair(sibling, current)
		} else {
			current = HashPair(current, sibling)
		}
	}

	var root [HashSize]byte
	copy(root[:], p.RootHash)
	return subtle.ConstantTimeCompare(current[:], root[:]) == 1
}

// VerifyProof is a free-function form of Verify, for callers that received
// a proof from an untrusted source and want it validated without
// instantiating a MerkleTree. expectedRoot, if non-nil, is additionally
// compared against the proof's embedded root before folding.
func VerifyProof(p *MerkleProof, expectedRoot []byte) (bool, error) {
	if p == nil {
		return false, policyerr.NewInvalidArgument("proof", "must not be nil")
	}
	if expectedRoot != nil {
		if len(expectedRoot) != HashSize || subtle.ConstantTimeCompare(p.RootHash, expectedRoot) != 1 {
			return false, nil
		}
	}
	return p.Verify(), nil
}
