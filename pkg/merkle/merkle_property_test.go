//go:build property
// +build property

package merkle_test

import (
	"crypto/sha256"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/acorndb/policygov/pkg/merkle"
)

func leafHashes(labels []string) [][]byte {
	out := make([][]byte, len(labels))
	for i, l := range labels {
		h := sha256.Sum256([]byte(l))
		out[i] = h[:]
	}
	return out
}

// TestMerkleRootDeterminism: building a tree twice from the same ordered
// leaves always yields the same root.
func TestMerkleRootDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("root hash is deterministic for a given leaf order", prop.ForAll(
		func(labels []string) bool {
			if len(labels) == 0 {
				return true
			}
			hashes := leafHashes(labels)

			t1 := merkle.NewMerkleTree()
			t2 := merkle.NewMerkleTree()
			for _, h := range hashes {
				if _, err := t1.AddLeafHash(h); err != nil {
					return false
				}
				if _, err := t2.AddLeafHash(h); err != nil {
					return false
				}
			}
			r1, r2 := t1.RootHash(), t2.RootHash()
			if len(r1) != len(r2) {
				return false
			}
			for i := range r1 {
				if r1[i] != r2[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestMerkleProofVerification: every generated proof for every leaf of a
// freshly built tree verifies against that tree's root.
func TestMerkleProofVerification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("generated proofs always verify", prop.ForAll(
		func(labels []string) bool {
			if len(labels) == 0 {
				return true
			}
			tree := merkle.NewMerkleTree()
			for _, h := range leafHashes(labels) {
				if _, err := tree.AddLeafHash(h); err != nil {
					return false
				}
			}
			root := tree.RootHash()
			for i := 0; i < tree.LeafCount(); i++ {
				proof, err := tree.GenerateProof(i)
				if err != nil {
					return false
				}
				ok, err := merkle.VerifyProof(proof, root)
				if err != nil || !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestMerkleProofRejectsTamperedLeaf: flipping a bit in a proof's leaf hash
// must never verify, regardless of tree shape.
func TestMerkleProofRejectsTamperedLeaf(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a tampered leaf hash never verifies", prop.ForAll(
		func(labels []string, tamperIdx int) bool {
			if len(labels) == 0 {
				return true
			}
			tree := merkle.NewMerkleTree()
			for _, h := range leafHashes(labels) {
				if _, err := tree.AddLeafHash(h); err != nil {
					return false
				}
			}
			i := tamperIdx % tree.LeafCount()
			if i < 0 {
				i = -i
			}
			proof, err := tree.GenerateProof(i)
			if err != nil {
				return false
			}
			proof.LeafHash[0] ^= 0xFF
			return !proof.Verify()
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
