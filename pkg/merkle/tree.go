// Package merkle implements a binary Merkle tree over 32-byte leaf hashes,
// producing O(log n) inclusion proofs via level-by-level pairwise folding
// with duplicate-on-odd balancing. A leaf here is just a 32-byte hash
// (typically a seal's signature), appended in caller order, not a
// canonicalized sub-object keyed by path.
package merkle

import (
	"crypto/sha256"
	"sync"

	"github.com/acorndb/policygov/pkg/policyerr"
)

// HashSize is the width in bytes of every leaf hash, node hash, and root.
const HashSize = 32

// SealLike is the minimal capability FromSeals needs from a ledger entry,
// kept local (rather than importing pkg/seal) to avoid a dependency cycle:
// pkg/seal already satisfies this via PolicySeal.SignatureBytes.
type SealLike interface {
	SignatureBytes() []byte
}

// MerkleTree is a binary tree over an ordered list of 32-byte leaf hashes.
// Rebuilds are lazy: any leaf addition marks the tree dirty, and RootHash
// / GenerateProof trigger a rebuild only when needed. Not safe without its
// own lock discipline from goroutines racing leaf addition against reads;
// the exported methods serialize via an internal mutex.
type MerkleTree struct {
	mu     sync.RWMutex
	leaves [][HashSize]byte
	levels [][][HashSize]byte // levels[0] = leaves, ..., levels[len-1] = {root}
	dirty  bool
}

// NewMerkleTree returns an empty tree.
func NewMerkleTree() *MerkleTree {
	return &MerkleTree{}
}

// AddLeaf hashes data with SHA-256 and appends it as a new leaf, returning
// its index.
func (t *MerkleTree) AddLeaf(data []byte) int {
	h := sha256.Sum256(data)
	idx, _ := t.AddLeafHash(h[:]) // a SHA-256 digest is always HashSize bytes
	return idx
}

// AddLeafHash appends a precomputed 32-byte leaf hash, returning its
// index. Rejects any hash not exactly 32 bytes.
func (t *MerkleTree) AddLeafHash(hash []byte) (int, error) {
	if len(hash) != HashSize {
		return 0, policyerr.NewInvalidArgument("hash", "must be 32 bytes")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var h [HashSize]byte
	copy(h[:], hash)
	t.leaves = append(t.leaves, h)
	t.dirty = true
	return len(t.leaves) - 1, nil
}

// FromSeals builds a tree whose leaves are, in order, each seal's
// signature bytes.
func FromSeals(seals []SealLike) (*MerkleTree, error) {
	t := NewMerkleTree()
	for _, s := range seals {
		if _, err := t.AddLeafHash(s.SignatureBytes()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LeafCount returns the number of leaves currently in the tree.
func (t *MerkleTree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// RootHash returns a defensive copy of the current root, rebuilding first
// if dirty. Returns nil for an empty tree.
func (t *MerkleTree) RootHash() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebuildLocked()
	if len(t.levels) == 0 {
		return nil
	}
	top := t.levels[len(t.levels)-1]
	root := top[0]
	cp := make([]byte, HashSize)
	copy(cp, root[:])
	return cp
}

// rebuildLocked recomputes every level from the current leaves. Caller
// must hold t.mu for writing.
func (t *MerkleTree) rebuildLocked() {
	if !t.dirty {
		return
	}
	t.levels = nil
	if len(t.leaves) > 0 {
		current := make([][HashSize]byte, len(t.leaves))
		copy(current, t.leaves)
		t.levels = append(t.levels, current)
		for len(current) > 1 {
			current = foldLevel(current)
			t.levels = append(t.levels, current)
		}
	}
	t.dirty = false
}

// foldLevel pairs children left-to-right, duplicating the final element
// when the level has an odd count, and returns the parent level.
func foldLevel(level [][HashSize]byte) [][HashSize]byte {
	n := len(level)
	if n%2 != 0 {
		level = append(level, level[n-1])
		n++
	}
	parent := make([][HashSize]byte, n/2)
	for i := 0; i < n; i += 2 {
		parent[i/2] = HashPair(level[i], level[i+1])
	}
	return parent
}

// HashPair is the internal node-combining function: SHA-256(L || R).
func HashPair(left, right [HashSize]byte) [HashSize]byte {
	buf := make([]byte, 0, HashSize*2)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// GenerateProof builds an inclusion proof for the leaf at index i,
// rebuilding first if dirty.
func (t *MerkleTree) GenerateProof(i int) (*MerkleProof, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebuildLocked()

	if i < 0 || i >= len(t.leaves) {
		return nil, policyerr.NewInvalidArgument("i", "leaf index out of range")
	}

	leafHash := t.leaves[i]
	siblings := make([]ProofStep, 0, len(t.levels)-1)

	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		siblingIdx := idx ^ 1
		isLeft := idx%2 != 0 // current is the right child

		var sibling [HashSize]byte
		if siblingIdx < len(nodes) {
			sibling = nodes[siblingIdx]
		} else {
			// Odd count at this level: the duplicate-on-odd rule means
			// the node was paired with itself.
			sibling = nodes[idx]
		}
		siblings = append(siblings, ProofStep{SiblingHash: copyHash(sibling), IsLeft: isLeft})
		idx /= 2
	}

	root := t.levels[len(t.levels)-1][0]
	return &MerkleProof{
		LeafIndex: i,
		LeafHash:  copyHash(leafHash),
		Siblings:  siblings,
		RootHash:  copyHash(root),
	}, nil
}

func copyHash(h [HashSize]byte) []byte {
	cp := make([]byte, HashSize)
	copy(cp, h[:])
	return cp
}
