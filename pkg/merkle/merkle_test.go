package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafHash(s string) [HashSize]byte {
	return sha256.Sum256([]byte(s))
}

func TestMerkleTree_OddLeafCountDuplicatesLast(t *testing.T) {
	tree := NewMerkleTree()
	a, b, c := leafHash("a"), leafHash("b"), leafHash("c")
	tree.AddLeafHash(a[:])
	tree.AddLeafHash(b[:])
	tree.AddLeafHash(c[:])

	n1 := HashPair(a, b)
	n2 := HashPair(c, c) // duplicated
	want := HashPair(n1, n2)

	assert.Equal(t, want[:], tree.RootHash())
}

func TestMerkleTree_EmptyTreeHasNoRoot(t *testing.T) {
	tree := NewMerkleTree()
	assert.Nil(t, tree.RootHash())
}

func TestMerkleTree_SingleLeafRootIsLeaf(t *testing.T) {
	tree := NewMerkleTree()
	a := leafHash("only")
	tree.AddLeafHash(a[:])
	assert.Equal(t, a[:], tree.RootHash())
}

func TestMerkleTree_AddLeafHashRejectsWrongLength(t *testing.T) {
	tree := NewMerkleTree()
	_, err := tree.AddLeafHash([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestMerkleTree_GenerateProof_VerifiesForEveryLeaf(t *testing.T) {
	tree := NewMerkleTree()
	leaves := []string{"a", "b", "c", "d", "e"}
	for _, l := range leaves {
		tree.AddLeaf([]byte(l))
	}
	root := tree.RootHash()

	for i := range leaves {
		proof, err := tree.GenerateProof(i)
		require.NoError(t, err)
		assert.Equal(t, root, proof.RootHash)
		assert.True(t, proof.Verify(), "leaf %d should verify", i)
	}
}

func TestMerkleTree_GenerateProof_RejectsOutOfRange(t *testing.T) {
	tree := NewMerkleTree()
	tree.AddLeaf([]byte("a"))
	_, err := tree.GenerateProof(5)
	assert.Error(t, err)
}

func TestMerkleProof_TamperedLeafFailsVerify(t *testing.T) {
	tree := NewMerkleTree()
	for _, l := range []string{"a", "b", "c"} {
		tree.AddLeaf([]byte(l))
	}
	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	assert.True(t, proof.Verify())

	wrong := leafHash("not-a")
	proof.LeafHash = wrong[:]
	assert.False(t, proof.Verify())
}

func TestMerkleProof_TamperedSiblingFailsVerify(t *testing.T) {
	tree := NewMerkleTree()
	for _, l := range []string{"a", "b", "c", "d"} {
		tree.AddLeaf([]byte(l))
	}
	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.True(t, proof.Verify())

	proof.Siblings[0].SiblingHash[0] ^= 0xFF
	assert.False(t, proof.Verify())
}

func TestMerkleProof_DefensiveCopiesPreventSiblingMutationCorruption(t *testing.T) {
	tree := NewMerkleTree()
	for _, l := range []string{"a", "b"} {
		tree.AddLeaf([]byte(l))
	}
	p1, err := tree.GenerateProof(0)
	require.NoError(t, err)
	p1.Siblings[0].SiblingHash[0] ^= 0xFF // mutate caller's copy

	p2, err := tree.GenerateProof(0)
	require.NoError(t, err)
	assert.True(t, p2.Verify(), "mutating one proof's slices must not corrupt a freshly generated proof")
}

func TestFromSeals_BuildsTreeFromSignatures(t *testing.T) {
	sigs := [][]byte{}
	for _, l := range []string{"sig-a", "sig-b", "sig-c"} {
		h := leafHash(l)
		sigs = append(sigs, h[:])
	}
	seals := make([]SealLike, len(sigs))
	for i, s := range sigs {
		seals[i] = fakeSeal{sig: s}
	}

	tree, err := FromSeals(seals)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.LeafCount())

	proof, err := tree.GenerateProof(1)
	require.NoError(t, err)
	assert.True(t, proof.Verify())
}

type fakeSeal struct{ sig []byte }

func (f fakeSeal) SignatureBytes() []byte { return f.sig }

func TestVerifyProof_RejectsMismatchedExpectedRoot(t *testing.T) {
	tree := NewMerkleTree()
	for _, l := range []string{"a", "b"} {
		tree.AddLeaf([]byte(l))
	}
	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)

	otherRoot := leafHash("not-the-root")
	ok, err := VerifyProof(proof, otherRoot[:])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = VerifyProof(proof, proof.RootHash)
	require.NoError(t, err)
	assert.True(t, ok)
}
