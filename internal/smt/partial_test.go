package smt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"notechain/internal/crypto"
)

func TestPartialTreeTracksAndUpdates(t *testing.T) {
	full := NewTree()
	keys := make([]crypto.Word, 6)
	for i := range keys {
		keys[i] = crypto.RandomWord()
		_, err := full.Insert(keys[i], crypto.WordFromUint64(uint64(i+1)))
		require.NoError(t, err)
	}

	partial := NewPartialTree(full.Root())
	for _, key := range keys[:3] {
		require.NoError(t, partial.AddOpening(key, full.Open(key)))
	}

	value, err := partial.Get(keys[0])
	require.NoError(t, err)
	require.Equal(t, crypto.WordFromUint64(1), value)
	_, err = partial.Get(keys[5])
	require.ErrorIs(t, err, ErrUntrackedKey)

	// Mutating tracked keys must reproduce the full tree's root.
	require.NoError(t, partial.Insert(keys[0], crypto.WordFromUint64(100)))
	require.NoError(t, partial.Insert(keys[2], crypto.EmptyWord))
	_, err = full.Insert(keys[0], crypto.WordFromUint64(100))
	require.NoError(t, err)
	_, err = full.Insert(keys[2], crypto.EmptyWord)
	require.NoError(t, err)
	require.Equal(t, full.Root(), partial.Root())

	require.ErrorIs(t, partial.Insert(keys[5], crypto.WordFromUint64(9)), ErrUntrackedKey)
}

func TestPartialTreeExclusionThenInsert(t *testing.T) {
	full := NewTree()
	existing := crypto.RandomWord()
	_, err := full.Insert(existing, crypto.WordFromUint64(1))
	require.NoError(t, err)

	fresh := crypto.RandomWord()
	partial := NewPartialTree(full.Root())
	require.NoError(t, partial.AddOpening(fresh, full.Open(fresh)))

	require.NoError(t, partial.Insert(fresh, crypto.WordFromUint64(2)))
	_, err = full.Insert(fresh, crypto.WordFromUint64(2))
	require.NoError(t, err)
	require.Equal(t, full.Root(), partial.Root())
}

func TestPartialTreeRejectsForeignOpening(t *testing.T) {
	full := NewTree()
	key := crypto.RandomWord()
	_, err := full.Insert(key, crypto.WordFromUint64(1))
	require.NoError(t, err)

	partial := NewPartialTree(crypto.RandomWord())
	require.ErrorIs(t, partial.AddOpening(key, full.Open(key)), ErrInvalidOpening)
}

func TestPartialTreeRejectsLateOpenings(t *testing.T) {
	full := NewTree()
	a, b := crypto.RandomWord(), crypto.RandomWord()
	_, err := full.Insert(a, crypto.WordFromUint64(1))
	require.NoError(t, err)
	_, err = full.Insert(b, crypto.WordFromUint64(2))
	require.NoError(t, err)

	partial := NewPartialTree(full.Root())
	require.NoError(t, partial.AddOpening(a, full.Open(a)))
	require.NoError(t, partial.Insert(a, crypto.WordFromUint64(3)))
	require.ErrorIs(t, partial.AddOpening(b, full.Open(b)), ErrTreeMutated)
}
