// partial.go - Partial trees: root maintenance over a witnessed subset.
//
// A partial tree anchors on a known root and absorbs openings for the
// keys a caller intends to touch. Once every relevant key is tracked, the
// tree supports the same insert/root operations as a full tree: updates
// recompute exactly the ancestor nodes of tracked leaves, whose siblings
// the openings supplied. Openings can only be absorbed before the first
// mutation, while they still verify against the anchor root.

package smt

import (
	"errors"
	"fmt"

	"notechain/internal/crypto"
)

var (
	// ErrUntrackedKey is returned when reading or writing a key whose leaf
	// was never absorbed.
	ErrUntrackedKey = errors.New("smt: key not tracked by partial tree")
	// ErrTreeMutated is returned when absorbing an opening after an insert.
	ErrTreeMutated = errors.New("smt: cannot absorb openings after mutation")
)

// PartialTree maintains the root of a tree it only partially knows.
type PartialTree struct {
	leaves  map[uint64][]Entry
	nodes   map[nodeKey]crypto.Word
	tracked map[uint64]bool
	mutated bool
}

// NewPartialTree returns a partial tree anchored on root.
func NewPartialTree(root crypto.Word) *PartialTree {
	p := &PartialTree{
		leaves:  make(map[uint64][]Entry),
		nodes:   make(map[nodeKey]crypto.Word),
		tracked: make(map[uint64]bool),
	}
	p.setNode(0, 0, root)
	return p
}

// AddOpening absorbs an opening for key, verifying it against the anchor
// root first.
func (p *PartialTree) AddOpening(key crypto.Word, op Opening) error {
	if p.mutated {
		return ErrTreeMutated
	}
	if computed := op.ComputeRoot(key); computed != p.Root() {
		return fmt.Errorf("%w: computed root %s, expected %s", ErrInvalidOpening, computed, p.Root())
	}
	idx := leafIndex(key)
	if !p.tracked[idx] {
		p.tracked[idx] = true
		if len(op.Entries) > 0 {
			p.leaves[idx] = append([]Entry(nil), op.Entries...)
		}
	}

	// Record the path and its siblings so updates can rehash to the root.
	current := leafHash(op.Entries)
	index := idx
	for d := Depth; d > 0; d-- {
		p.setNode(uint8(d), index, current)
		sibling := op.Siblings[Depth-d]
		p.setNode(uint8(d), index^1, sibling)
		if index&1 == 0 {
			current = crypto.Hash(current, sibling)
		} else {
			current = crypto.Hash(sibling, current)
		}
		index >>= 1
	}
	return nil
}

// IsTracked reports whether the key's leaf has been absorbed.
func (p *PartialTree) IsTracked(key crypto.Word) bool {
	return p.tracked[leafIndex(key)]
}

// Get returns the value stored under a tracked key.
func (p *PartialTree) Get(key crypto.Word) (crypto.Word, error) {
	idx := leafIndex(key)
	if !p.tracked[idx] {
		return crypto.EmptyWord, fmt.Errorf("%w: %s", ErrUntrackedKey, key)
	}
	for _, e := range p.leaves[idx] {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return crypto.EmptyWord, nil
}

// Insert sets a tracked key to value and updates the root. Inserting the
// empty word removes the key.
func (p *PartialTree) Insert(key, value crypto.Word) error {
	idx := leafIndex(key)
	if !p.tracked[idx] {
		return fmt.Errorf("%w: %s", ErrUntrackedKey, key)
	}
	entries := p.leaves[idx]
	pos := -1
	for i, e := range entries {
		if e.Key == key {
			pos = i
			break
		}
	}
	switch {
	case value.IsEmpty():
		if pos >= 0 {
			entries = append(entries[:pos], entries[pos+1:]...)
		}
	case pos >= 0:
		entries[pos].Value = value
	default:
		if len(entries) >= MaxLeafEntries {
			return fmt.Errorf("%w: index %d", ErrTooManyLeafEntries, idx)
		}
		entries = insertSorted(entries, Entry{Key: key, Value: value})
	}
	if len(entries) == 0 {
		delete(p.leaves, idx)
	} else {
		p.leaves[idx] = entries
	}
	p.mutated = true

	current := leafHash(entries)
	index := idx
	for d := Depth; d > 0; d-- {
		p.setNode(uint8(d), index, current)
		sibling := p.node(uint8(d), index^1)
		if index&1 == 0 {
			current = crypto.Hash(current, sibling)
		} else {
			current = crypto.Hash(sibling, current)
		}
		index >>= 1
	}
	p.setNode(0, 0, current)
	return nil
}

// Root returns the current root.
func (p *PartialTree) Root() crypto.Word {
	return p.node(0, 0)
}

func (p *PartialTree) node(depth uint8, index uint64) crypto.Word {
	if v, ok := p.nodes[nodeKey{depth, index}]; ok {
		return v
	}
	return emptyRoots[depth]
}

func (p *PartialTree) setNode(depth uint8, index uint64, value crypto.Word) {
	if value == emptyRoots[depth] {
		delete(p.nodes, nodeKey{depth, index})
		return
	}
	p.nodes[nodeKey{depth, index}] = value
}

func insertSorted(entries []Entry, e Entry) []Entry {
	entries = append(entries, e)
	for i := len(entries) - 1; i > 0 && entries[i].Key.Cmp(entries[i-1].Key) < 0; i-- {
		entries[i], entries[i-1] = entries[i-1], entries[i]
	}
	return entries
}
