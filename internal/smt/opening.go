// opening.go - Merkle openings (inclusion and exclusion proofs) for the tree.

package smt

import (
	"errors"
	"fmt"

	"notechain/internal/crypto"
)

// ErrInvalidOpening is returned when an opening does not verify against the
// claimed root, key or value.
var ErrInvalidOpening = errors.New("smt: opening does not verify")

// Opening proves the value stored under a key with respect to a tree root.
// An opening for an absent key (the leaf entries exclude the key) proves
// exclusion.
type Opening struct {
	// Entries is the full entry list of the leaf the key maps to.
	Entries []Entry `json:"entries"`
	// Siblings holds the sibling hashes along the path, ordered from the
	// leaf level up to the level below the root.
	Siblings [Depth]crypto.Word `json:"siblings"`
}

// Open returns an opening for the given key.
func (t *Tree) Open(key crypto.Word) Opening {
	idx := leafIndex(key)
	op := Opening{
		Entries: append([]Entry(nil), t.leaves[idx]...),
	}
	index := idx
	for d := Depth; d > 0; d-- {
		op.Siblings[Depth-d] = t.node(uint8(d), index^1)
		index >>= 1
	}
	return op
}

// Value returns the value the opening attests for the given key. Absent
// keys yield the empty word.
func (op *Opening) Value(key crypto.Word) crypto.Word {
	for _, e := range op.Entries {
		if e.Key == key {
			return e.Value
		}
	}
	return crypto.EmptyWord
}

// ComputeRoot folds the opening into the root it commits to for the given
// key.
func (op *Opening) ComputeRoot(key crypto.Word) crypto.Word {
	current := leafHash(op.Entries)
	index := leafIndex(key)
	for i := 0; i < Depth; i++ {
		sibling := op.Siblings[i]
		if index&1 == 0 {
			current = crypto.Hash(current, sibling)
		} else {
			current = crypto.Hash(sibling, current)
		}
		index >>= 1
	}
	return current
}

// Verify checks that the opening proves `value` under `key` for a tree with
// the given root.
func (op *Opening) Verify(root, key, value crypto.Word) error {
	if op.Value(key) != value {
		return fmt.Errorf("%w: leaf entries attest a different value for key %s", ErrInvalidOpening, key)
	}
	if computed := op.ComputeRoot(key); computed != root {
		return fmt.Errorf("%w: computed root %s, expected %s", ErrInvalidOpening, computed, root)
	}
	return nil
}
