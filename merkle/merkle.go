// Package merkle implements the commitment scheme binding a full
// recipient→amount allocation set to a single 32-byte root. The same code
// runs on the committing side (the oracle pipeline) and the verifying side
// (the claim verifier); the two must never diverge.
package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrNoLeaves    = errors.New("merkle: no leaves")
	ErrIndexRange  = errors.New("merkle: leaf index out of range")
	ErrInvalidLeaf = errors.New("merkle: invalid leaf input")
)

// LeafHash encodes a (recipient, amount) pair into its canonical leaf digest:
// keccak256 over the 20-byte recipient followed by the amount as a 32-byte
// big-endian word. The fixed-width packing leaves no ambiguity between
// distinct pairs.
func LeafHash(recipient [20]byte, amount *big.Int) ([32]byte, error) {
	var leaf [32]byte
	if amount == nil || amount.Sign() <= 0 {
		return leaf, fmt.Errorf("%w: amount must be positive", ErrInvalidLeaf)
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return leaf, fmt.Errorf("%w: amount exceeds 256 bits", ErrInvalidLeaf)
	}
	packed := make([]byte, 0, 52)
	packed = append(packed, recipient[:]...)
	wordBytes := word.Bytes32()
	packed = append(packed, wordBytes[:]...)
	copy(leaf[:], ethcrypto.Keccak256(packed))
	return leaf, nil
}

// combine hashes two sibling digests after sorting them bytewise. Sorting
// makes the root independent of leaf ordering and of left/right position
// during verification.
func combine(a, b [32]byte) [32]byte {
	var out [32]byte
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	return out
}

// Tree holds every level of a commitment tree, leaves first. A lone trailing
// node on an odd-length level is promoted unchanged to the next level, never
// duplicated; Verify relies on the same rule implicitly because a promoted
// node simply contributes no sibling at that level.
type Tree struct {
	levels [][][32]byte
}

// NewTree builds a tree over the supplied leaf digests.
func NewTree(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	levels := [][][32]byte{level}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, combine(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's commitment digest.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Proof returns the ordered sibling digests from leaf index up to the root.
func (t *Tree) Proof(index int) ([][32]byte, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	proof := make([][32]byte, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, nil
}

// Verify recomputes the path from leaf through the supplied sibling digests
// and compares the result to root. It is deterministic and side-effect free.
func Verify(root, leaf [32]byte, proof [][32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = combine(computed, sibling)
	}
	return computed == root
}
