// smt.go - Sparse Merkle tree over MiMC for authenticated key-value maps.
//
// The tree backs every authenticated map in the system: asset vaults,
// storage map slots, the account tree, the nullifier tree and the note tree.
// Leaves are addressed by a 64-bit index folded from the key's low limbs;
// each leaf holds a sorted list of (key, value) entries so distinct keys
// sharing an index remain distinguishable under the commitment.

package smt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"notechain/internal/crypto"
)

// Depth is the depth of the tree, one level per leaf-index bit.
const Depth = 64

// MaxLeafEntries bounds the number of entries sharing one leaf index.
const MaxLeafEntries = 16

// ErrTooManyLeafEntries is returned when a leaf index accumulates more
// entries than MaxLeafEntries.
var ErrTooManyLeafEntries = errors.New("smt: too many entries in a single leaf")

// Entry is a single key-value pair stored in the tree.
type Entry struct {
	Key   crypto.Word `json:"key"`
	Value crypto.Word `json:"value"`
}

type nodeKey struct {
	depth uint8
	index uint64
}

// emptyRoots[d] is the root of an empty subtree whose top is at depth d.
var emptyRoots [Depth + 1]crypto.Word

func init() {
	emptyRoots[Depth] = crypto.EmptyWord
	for d := Depth - 1; d >= 0; d-- {
		emptyRoots[d] = crypto.Hash(emptyRoots[d+1], emptyRoots[d+1])
	}
}

// Tree is a mutable sparse Merkle tree. The zero value is not usable; use
// NewTree.
type Tree struct {
	leaves     map[uint64][]Entry
	nodes      map[nodeKey]crypto.Word
	numEntries int
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		leaves: make(map[uint64][]Entry),
		nodes:  make(map[nodeKey]crypto.Word),
	}
}

// WithEntries returns a tree initialized with the provided entries.
// Inserting the same key twice is an error.
func WithEntries(entries []Entry) (*Tree, error) {
	t := NewTree()
	for _, e := range entries {
		if !t.Get(e.Key).IsEmpty() {
			return nil, fmt.Errorf("smt: duplicate key %s", e.Key)
		}
		if _, err := t.Insert(e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// leafIndex folds the low 128 bits of the key, the bytes every key
// encoding populates: account prefix words carry the prefix in the high
// limb, small integer words carry the value in the low limb, and digest
// keys are uniform throughout. The word's top bytes are often zero (pair
// and integer encodings) and must not drive the index.
func leafIndex(key crypto.Word) uint64 {
	hi := binary.BigEndian.Uint64(key[crypto.WordSize-16 : crypto.WordSize-8])
	lo := binary.BigEndian.Uint64(key[crypto.WordSize-8:])
	return hi ^ lo
}

func leafHash(entries []Entry) crypto.Word {
	if len(entries) == 0 {
		return crypto.EmptyWord
	}
	words := make([]crypto.Word, 0, 2*len(entries))
	for _, e := range entries {
		words = append(words, e.Key, e.Value)
	}
	return crypto.Hash(words...)
}

func (t *Tree) node(depth uint8, index uint64) crypto.Word {
	if v, ok := t.nodes[nodeKey{depth, index}]; ok {
		return v
	}
	return emptyRoots[depth]
}

// Root returns the tree root. An empty tree has the empty-tree root, which
// is a fixed constant.
func (t *Tree) Root() crypto.Word {
	return t.node(0, 0)
}

// EmptyRoot returns the root of an empty tree.
func EmptyRoot() crypto.Word {
	return emptyRoots[0]
}

// Get returns the value stored under key, or the empty word if absent.
func (t *Tree) Get(key crypto.Word) crypto.Word {
	for _, e := range t.leaves[leafIndex(key)] {
		if e.Key == key {
			return e.Value
		}
	}
	return crypto.EmptyWord
}

// Insert sets key to value and returns the previous value (empty if the key
// was absent). Inserting the empty word removes the key.
func (t *Tree) Insert(key, value crypto.Word) (crypto.Word, error) {
	idx := leafIndex(key)
	entries := t.leaves[idx]

	prev := crypto.EmptyWord
	pos := -1
	for i, e := range entries {
		if e.Key == key {
			prev = e.Value
			pos = i
			break
		}
	}

	switch {
	case value.IsEmpty():
		if pos >= 0 {
			entries = append(entries[:pos], entries[pos+1:]...)
			t.numEntries--
		}
	case pos >= 0:
		entries[pos].Value = value
	default:
		if len(entries) >= MaxLeafEntries {
			return prev, fmt.Errorf("%w: index %d", ErrTooManyLeafEntries, idx)
		}
		entries = append(entries, Entry{Key: key, Value: value})
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Key.Cmp(entries[j].Key) < 0
		})
		t.numEntries++
	}

	if len(entries) == 0 {
		delete(t.leaves, idx)
	} else {
		t.leaves[idx] = entries
	}

	t.updatePath(idx, leafHash(entries))
	return prev, nil
}

// updatePath recomputes the nodes from the leaf at idx up to the root.
func (t *Tree) updatePath(idx uint64, leaf crypto.Word) {
	current := leaf
	index := idx
	for d := Depth; d > 0; d-- {
		t.setNode(uint8(d), index, current)
		sibling := t.node(uint8(d), index^1)
		if index&1 == 0 {
			current = crypto.Hash(current, sibling)
		} else {
			current = crypto.Hash(sibling, current)
		}
		index >>= 1
	}
	t.setNode(0, 0, current)
}

func (t *Tree) setNode(depth uint8, index uint64, value crypto.Word) {
	if value == emptyRoots[depth] {
		delete(t.nodes, nodeKey{depth, index})
		return
	}
	t.nodes[nodeKey{depth, index}] = value
}

// NumEntries returns the number of key-value pairs in the tree.
func (t *Tree) NumEntries() int {
	return t.numEntries
}

// NumLeaves returns the number of non-empty leaves.
func (t *Tree) NumLeaves() int {
	return len(t.leaves)
}

// Entries returns all entries sorted by key.
func (t *Tree) Entries() []Entry {
	all := make([]Entry, 0, t.numEntries)
	for _, entries := range t.leaves {
		all = append(all, entries...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Key.Cmp(all[j].Key) < 0
	})
	return all
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := NewTree()
	c.numEntries = t.numEntries
	for idx, entries := range t.leaves {
		c.leaves[idx] = append([]Entry(nil), entries...)
	}
	for k, v := range t.nodes {
		c.nodes[k] = v
	}
	return c
}

// MarshalJSON encodes the tree as its sorted entry list.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Entries())
}

// UnmarshalJSON rebuilds the tree from an entry list.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	rebuilt, err := WithEntries(entries)
	if err != nil {
		return err
	}
	*t = *rebuilt
	return nil
}
